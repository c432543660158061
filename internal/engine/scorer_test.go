package engine

import (
	"testing"
	"time"

	"blood_bank/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		location string
		want     int
	}{
		{"province and district match, empty ward token dropped", "hanoi_dongda_", "123 Dong Da, Hanoi", 2},
		{"full hierarchy match", "hanoi_dongda_langha", "Lang Ha, Dong Da, Hanoi", 3},
		{"empty request location scores zero", "", "123 Dong Da, Hanoi", 0},
		{"empty inventory location scores zero", "hanoi_dongda_", "", 0},
		{"no overlap", "hcmc_district1_benthanh", "123 Dong Da, Hanoi", 0},
		{"case insensitive", "HANOI_DONGDA_", "123 dong da, hanoi", 2},
		{"only empty tokens", "__", "123 Dong Da, Hanoi", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.request, tt.location))
		})
	}
}

func TestPickBest_HighestScoreWins(t *testing.T) {
	now := time.Now()
	candidates := []model.BloodInventory{
		{ID: 1, Location: "Da Nang", LastUpdated: now},
		{ID: 2, Location: "Dong Da, Hanoi", LastUpdated: now},
		{ID: 3, Location: "Hanoi", LastUpdated: now},
	}
	best := pickBest("hanoi_dongda_", candidates)
	assert.Equal(t, uint(2), best.ID)
}

func TestPickBest_TieBrokenByOldestStock(t *testing.T) {
	now := time.Now()
	candidates := []model.BloodInventory{
		{ID: 1, Location: "Hanoi", LastUpdated: now},
		{ID: 2, Location: "Hanoi", LastUpdated: now.Add(-time.Hour)},
		{ID: 3, Location: "Hanoi", LastUpdated: now.Add(time.Hour)},
	}
	best := pickBest("hanoi_dongda_", candidates)
	assert.Equal(t, uint(2), best.ID)
}

func TestPickBest_EmptyLocationFallsBackToOldest(t *testing.T) {
	now := time.Now()
	candidates := []model.BloodInventory{
		{ID: 1, Location: "Dong Da, Hanoi", LastUpdated: now},
		{ID: 2, Location: "Da Nang", LastUpdated: now.Add(-time.Hour)},
	}
	// 空地址全员 0 分，退化为最老库存优先。
	best := pickBest("", candidates)
	assert.Equal(t, uint(2), best.ID)
}
