// Package anomaly loads pre-aggregated anomaly profiles from a YAML seed
// file. The counters themselves are produced by an out-of-process pipeline;
// the engine only consumes them as risk-model inputs.
package anomaly

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

// Seed 是异常画像种子文件的顶层结构。
type Seed struct {
	Profiles []ProfileSeed `yaml:"profiles"`
}

// ProfileSeed 描述单个参与方的异常计数。
type ProfileSeed struct {
	Participant        string `yaml:"participant"`
	UnusualRoutes      uint64 `yaml:"unusual_routes"`
	TimeDeviations     uint64 `yaml:"time_deviations"`
	ValueDiscrepancies uint64 `yaml:"value_discrepancies"`
	CustodyGaps        uint64 `yaml:"custody_gaps"`
}

// Load 解析 YAML 种子文件并转换为账本侧的画像记录。
func Load(path string) ([]ledger.AnomalyProfile, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取异常画像种子失败: %w", err)
	}
	return Parse(content)
}

// Parse 解析 YAML 内容。参与方为空的条目直接拒绝。
func Parse(content []byte) ([]ledger.AnomalyProfile, error) {
	var seed Seed
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("解析异常画像种子失败: %w", err)
	}
	profiles := make([]ledger.AnomalyProfile, 0, len(seed.Profiles))
	for i, entry := range seed.Profiles {
		if entry.Participant == "" {
			return nil, fmt.Errorf("第 %d 条异常画像缺少参与方身份", i+1)
		}
		profiles = append(profiles, ledger.AnomalyProfile{
			ID:                 ledger.Identity(entry.Participant),
			UnusualRoutes:      entry.UnusualRoutes,
			TimeDeviations:     entry.TimeDeviations,
			ValueDiscrepancies: entry.ValueDiscrepancies,
			CustodyGaps:        entry.CustodyGaps,
		})
	}
	return profiles, nil
}
