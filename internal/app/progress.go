package app

import (
	"math"
	"sort"
	"strings"

	"github.com/ericadamski/stream-rewards/internal/domain"
)

const (
	minBarHeight = 4.0
	maxPercent   = 100.0

	detailTopMin = 8.0
	lineTopMin   = 2.0
	markerTopMax = 98.0

	defaultDirection = "left"
)

// NextReward returns the cheapest reward not yet reached by count, and the
// unreached rewards after it in ascending order. The input is not modified.
func NextReward(count int, rewards []domain.Reward) (*domain.Reward, []domain.Reward) {
	sorted := make([]domain.Reward, len(rewards))
	copy(sorted, rewards)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SubCount < sorted[j].SubCount })

	for i := range sorted {
		if sorted[i].SubCount > count {
			next := sorted[i]
			remaining := make([]domain.Reward, 0, len(sorted)-i-1)
			remaining = append(remaining, sorted[i+1:]...)
			return &next, remaining
		}
	}
	return nil, []domain.Reward{}
}

type ProgressInput struct {
	Count         int
	Rewards       []domain.Reward
	Metric        domain.WebhookType
	LastEventUser string
	Direction     string
}

// ProgressView carries every number the progress page draws. Percentages are
// relative to the bar height.
type ProgressView struct {
	Count            int             `json:"count"`
	MaxSubCount      int             `json:"max_sub_count"`
	Percent          float64         `json:"percent"`
	BarHeight        float64         `json:"bar_height"`
	Full             bool            `json:"full"`
	ShowCount        bool            `json:"show_count"`
	NextReward       *domain.Reward  `json:"next_reward,omitempty"`
	RemainingRewards []domain.Reward `json:"remaining_rewards"`
	DetailTop        float64         `json:"detail_top"`
	LineTop          float64         `json:"line_top"`

	Direction    string `json:"direction"`
	AnchorLeft   bool   `json:"anchor_left"`
	AnchorRight  bool   `json:"anchor_right"`
	DetailOffset string `json:"detail_offset"`

	MetricName    string `json:"metric_name"`
	LastLabel     string `json:"last_label"`
	LastEventUser string `json:"last_event_user"`
}

func ComputeProgress(in ProgressInput) ProgressView {
	maxSubCount := 1
	for _, r := range in.Rewards {
		if r.SubCount > maxSubCount {
			maxSubCount = r.SubCount
		}
	}
	step := 1 / float64(maxSubCount)
	percent := float64(in.Count) * step * 100

	next, remaining := NextReward(in.Count, in.Rewards)

	view := ProgressView{
		Count:            in.Count,
		MaxSubCount:      maxSubCount,
		Percent:          percent,
		BarHeight:        math.Min(math.Max(minBarHeight, percent), maxPercent),
		Full:             percent >= maxPercent,
		ShowCount:        percent > 0,
		NextReward:       next,
		RemainingRewards: remaining,
		LastEventUser:    in.LastEventUser,
	}

	if next != nil {
		top := 100 - float64(next.SubCount)*step*100
		view.DetailTop = clamp(top, detailTopMin, markerTopMax)
		view.LineTop = clamp(top, lineTopMin, markerTopMax)
	}

	view.Direction = in.Direction
	if view.Direction == "" {
		view.Direction = defaultDirection
	}
	view.AnchorLeft = view.Direction == "l"
	view.AnchorRight = view.Direction == "r"
	view.DetailOffset = "-125%"
	if view.AnchorLeft {
		view.DetailOffset = "0"
	}

	view.MetricName = in.Metric.FriendlyName()
	if lower := strings.ToLower(view.MetricName); lower != "" {
		view.LastLabel = lower[:len(lower)-1]
	}

	return view
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
