package grpcserver

import (
	"context"

	towlv1 "github.com/mezeipetister/towl/api/towl/v1"
	"github.com/mezeipetister/towl/internal/logfile"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
)

type towlSvc struct {
	towlv1.UnimplementedTowlServer
	svc *logsvc.Service
}

func (s *towlSvc) Add(ctx context.Context, req *towlv1.AddRequest) (*towlv1.AddResponse, error) {
	pos, err := s.svc.Add(ctx, logsvc.AddRequest{
		Sender:    req.Sender,
		LogFormat: logfile.LogFormat(req.LogFormat),
		LogEntry:  req.LogEntry,
	})
	if err != nil {
		return nil, err
	}
	return &towlv1.AddResponse{FileID: pos.FileID, Counter: pos.Ordinal}, nil
}

func (s *towlSvc) List(ctx context.Context, _ *towlv1.ListRequest) (*towlv1.ListResponse, error) {
	ids, err := s.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	return &towlv1.ListResponse{FileIDs: ids}, nil
}

type grpcSink struct {
	stream towlv1.Towl_GetServer
}

func (g grpcSink) Send(it logsvc.Item) error {
	return g.stream.Send(&towlv1.LogEntry{
		FileID:    it.FileID,
		Counter:   it.Counter,
		Sender:    it.Sender,
		Received:  it.Received,
		LogFormat: int32(it.LogFormat),
		LogEntry:  it.LogEntry,
	})
}
func (g grpcSink) Context() context.Context { return g.stream.Context() }
func (g grpcSink) Flush() error             { return nil }

func (s *towlSvc) Get(req *towlv1.GetRequest, stream towlv1.Towl_GetServer) error {
	err := s.svc.Get(stream.Context(), logsvc.GetRequest{
		FileID:       req.FileID,
		AfterCounter: req.AfterCounter,
		Follow:       req.Follow,
	}, grpcSink{stream: stream})
	if logsvc.IsNormalEnd(err) {
		return nil
	}
	return err
}

func (s *towlSvc) Config(ctx context.Context, req *towlv1.ConfigRequest) (*towlv1.ConfigResponse, error) {
	msg, err := s.svc.Config(ctx, []byte(req.Payload))
	if err != nil {
		return nil, err
	}
	return &towlv1.ConfigResponse{Message: msg}, nil
}

func (s *towlSvc) Retain(ctx context.Context, req *towlv1.RetainRequest) (*towlv1.RetainResponse, error) {
	res, err := s.svc.Retain(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	out := &towlv1.RetainResponse{Boundary: res.Boundary, Outcomes: make([]towlv1.RetainOutcome, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		ro := towlv1.RetainOutcome{FileID: o.ID, Kind: string(o.Kind), URL: o.URL}
		if o.Err != nil {
			ro.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, ro)
	}
	return out, nil
}

func (s *towlSvc) Status(ctx context.Context, _ *towlv1.StatusRequest) (*towlv1.StatusResponse, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &towlv1.StatusResponse{
		ActiveID:    st.ActiveID,
		ActiveCount: st.ActiveCount,
		Files:       st.Files,
		NextID:      st.NextID,
		Boundary:    st.Boundary,
		Policy:      st.Policy.String(),
		Quarantined: st.Quarantined,
		Archived:    st.Archived,
		Subscribers: st.Subscribers,
	}, nil
}
