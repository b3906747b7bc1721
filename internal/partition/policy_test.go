package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mezeipetister/towl/internal/logfile"
)

func TestPolicyShouldRoll(t *testing.T) {
	opened := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC) // a Friday
	tests := []struct {
		name  string
		p     Policy
		count uint64
		now   time.Time
		want  bool
	}{
		{"below max", Policy{MaxEntries: 3}, 2, opened, false},
		{"at max", Policy{MaxEntries: 3}, 3, opened, true},
		{"same day", Policy{Rotation: RotationDaily}, 100, opened.Add(30 * time.Second), false},
		{"next day", Policy{Rotation: RotationDaily}, 0, opened.Add(2 * time.Minute), true},
		{"local zone ignored", Policy{Rotation: RotationDaily}, 0, opened.In(time.FixedZone("x", 3600)), false},
		{"same iso week", Policy{Rotation: RotationWeekly}, 0, opened.Add(48 * time.Hour), false},
		{"next iso week", Policy{Rotation: RotationWeekly}, 0, opened.Add(72 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.ShouldRoll(tt.count, opened, tt.now))
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{MaxEntries: 1}.Validate())
	assert.NoError(t, Policy{Rotation: RotationWeekly}.Validate())
	assert.ErrorIs(t, Policy{}.Validate(), logfile.ErrConfig)
	assert.ErrorIs(t, Policy{MaxEntries: 1, Rotation: RotationDaily}.Validate(), logfile.ErrConfig)
	assert.ErrorIs(t, Policy{Rotation: "monthly"}.Validate(), logfile.ErrConfig)
}

func TestPolicyNextBoundary(t *testing.T) {
	opened := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) // Friday
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Policy{Rotation: RotationDaily}.NextBoundary(opened))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Policy{Rotation: RotationWeekly}.NextBoundary(opened))
	assert.True(t, Policy{MaxEntries: 5}.NextBoundary(opened).IsZero())
}

func TestArchiveName(t *testing.T) {
	h := logfile.Header{Org: "acme corp", Title: "edge/logs", ID: 12}
	idx := logfile.Index{Opened: time.Date(2024, 11, 5, 3, 0, 0, 0, time.UTC)}
	assert.Equal(t, "acme-corp_edge-logs_2024_11_5_12.towl", ArchiveName(h, idx))
}

func TestCatalogKeysSortByID(t *testing.T) {
	assert.Less(t, string(KeyArchive(2)), string(KeyArchive(10)))
	assert.Equal(t, "towl/meta/next_id", string(KeyNextID()))
}
