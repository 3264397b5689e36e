package oracle

import (
	"github.com/ethereum/go-ethereum/common/math"

	"XGrowth-Chain/internal/curve"
	"XGrowth-Chain/internal/state"
)

const maxUint64 = ^uint64(0)

// ScoreScale 是归一化分数的上界（不可达）。
const ScoreScale uint64 = 1_000_000

// 互动权重，按十倍放大以使浏览量权重保持整数。
const (
	WeightLike     uint64 = 10
	WeightView     uint64 = 1
	WeightComment  uint64 = 20
	WeightFollower uint64 = 50
)

// Counters 是一组互动计数。
type Counters struct {
	Likes        uint64 `json:"likes"`
	Views        uint64 `json:"views"`
	Comments     uint64 `json:"comments"`
	NewFollowers uint64 `json:"new_followers"`
}

// RawEngagement 计算加权互动量，溢出时饱和到 MaxUint64。
func RawEngagement(c Counters) uint64 {
	total := uint64(0)
	for _, term := range [][2]uint64{
		{c.Likes, WeightLike},
		{c.Views, WeightView},
		{c.Comments, WeightComment},
		{c.NewFollowers, WeightFollower},
	} {
		v, overflow := math.SafeMul(term[0], term[1])
		if overflow {
			return maxUint64
		}
		if total, overflow = math.SafeAdd(total, v); overflow {
			return maxUint64
		}
	}
	return total
}

// Score 将加权互动量映射到 [0, ScoreScale)：raw·ScoreScale/(raw+halfSaturation)。
// 互动量等于 halfSaturation 时分数为 ScoreScale 的一半。
func Score(raw, halfSaturation uint64) uint64 {
	if raw == 0 {
		return 0
	}
	if halfSaturation == 0 {
		halfSaturation = 1
	}
	den, overflow := math.SafeAdd(raw, halfSaturation)
	if overflow {
		return ScoreScale - 1
	}
	s, err := curve.MulDiv(raw, ScoreScale, den)
	if err != nil || s >= ScoreScale {
		return ScoreScale - 1
	}
	return s
}

// DailyCounters 返回当日计数。
func DailyCounters(m state.PerformanceMetrics) Counters {
	return Counters{
		Likes:        m.DailyLikes,
		Views:        m.DailyViews,
		Comments:     m.DailyComments,
		NewFollowers: m.DailyNewFollowers,
	}
}

// PeriodScore 返回 Agent 在指定周期的分数。周期仍在累计时按当日计数计算，
// 已滚动的周期使用冻结分数，其余周期为 0。
func PeriodScore(m state.PerformanceMetrics, period int64, halfSaturation uint64) uint64 {
	switch period {
	case m.DailyPeriod:
		return Score(RawEngagement(DailyCounters(m)), halfSaturation)
	case m.ClosedPeriod:
		return m.ClosedScore
	default:
		return 0
	}
}
