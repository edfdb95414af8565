package ledger

// 风险模型中各因子的权重。
const (
	incidentRiskWeight = 10
	anomalyRiskWeight  = 5
)

// RiskScore 将参与方的信誉、事故数与异常计数折算为单一风险分：
//
//	risk = (100 - reputation) + 10*incidents + 5*anomalySum
//
// declaredValue 作为输入透传但当前不参与计算，为未来因子预留。
// profile 为 nil 时异常计数视为全零；participant 为 nil 时返回兜底值，
// 公开操作在计算前均已校验注册，正常不会走到该分支。
// 纯函数，无副作用。
func RiskScore(participant *Participant, profile *AnomalyProfile, declaredValue uint64) uint64 {
	_ = declaredValue
	if participant == nil {
		return UnknownParticipantRisk
	}
	reputation := clampReputation(participant.Reputation)
	risk := uint64(MaxReputation - reputation)
	risk += incidentRiskWeight * participant.FlaggedIncidents
	risk += anomalyRiskWeight * profile.Sum()
	return risk
}
