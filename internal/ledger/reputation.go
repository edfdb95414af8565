package ledger

// clampReputation 将信誉分收敛到 [MinReputation, MaxReputation]。
func clampReputation(score int) int {
	if score < MinReputation {
		return MinReputation
	}
	if score > MaxReputation {
		return MaxReputation
	}
	return score
}

// applyDelta 返回施加带符号增量并收敛后的新信誉分。纯函数。
func applyDelta(current, delta int) int {
	return clampReputation(current + delta)
}

// 签收成功后对双方的信誉奖励。
const (
	DeliveryOriginReward      = 5
	DeliveryDestinationReward = 3
)
