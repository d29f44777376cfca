package strategies

import (
	"encoding/json"
	"fmt"

	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// SignalFollowerParams 信号跟单参数
type SignalFollowerParams struct {
	// TargetID 外部信号的路由标识，运行时按它分发信号
	TargetID string `json:"TargetID"`
	// DefaultVolume 信号未带数量时使用
	DefaultVolume float64 `json:"DefaultVolume"`
	// MaxPos 多空方向的仓位上限
	MaxPos float64 `json:"MaxPos"`
}

// SignalFollowerStrategy 跟随外部信号调仓：
// long/short 信号把仓位推向对应方向，exit 清仓，全部市价执行。
type SignalFollowerStrategy struct {
	runtime.BaseStrategy
	params SignalFollowerParams
}

// NewSignalFollowerStrategy 解析参数并创建实例
func NewSignalFollowerStrategy(params json.RawMessage) (runtime.Strategy, error) {
	s := &SignalFollowerStrategy{
		params: SignalFollowerParams{DefaultVolume: 1, MaxPos: 1},
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &s.params); err != nil {
			return nil, err
		}
	}
	if s.params.TargetID == "" {
		return nil, fmt.Errorf("signal follower requires a TargetID")
	}
	return s, nil
}

func init() {
	runtime.Register("SignalFollower", NewSignalFollowerStrategy)
}

func (s *SignalFollowerStrategy) OnSignal(ctx runtime.Context, sig *model.Signal) {
	if sig.Symbol != ctx.Symbol() {
		ctx.Log("signal symbol %s does not match %s, ignored", sig.Symbol, ctx.Symbol())
		return
	}

	volume := sig.Volume
	if volume == 0 {
		volume = s.params.DefaultVolume
	}

	pos := ctx.Pos()
	var target float64
	switch sig.Action {
	case model.SignalActionLong:
		target = min(volume, s.params.MaxPos)
	case model.SignalActionShort:
		target = -min(volume, s.params.MaxPos)
	case model.SignalActionExit:
		target = 0
	default:
		return
	}

	delta := target - pos
	if delta == 0 {
		return
	}
	var err error
	if delta > 0 {
		_, err = ctx.Buy(0, delta)
	} else {
		_, err = ctx.Sell(0, -delta)
	}
	if err != nil {
		ctx.Log("signal order failed: %v", err)
		return
	}
	ctx.Log("signal %s executed, pos %.2f -> target %.2f", sig.Action, pos, target)
}
