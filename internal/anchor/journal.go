package anchor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal appends anchoring receipts to a local JSONL log and keeps the most
// recent entries in memory for inspection.
type Journal struct {
	mu       sync.RWMutex
	dataFile string
	receipts []Receipt
}

const journalKeep = 512

// NewJournal opens (or creates) the receipt log under dataDir.
func NewJournal(dataDir string) (*Journal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	journal := &Journal{dataFile: filepath.Join(dataDir, "anchors.log")}
	if err := journal.loadFromDisk(); err != nil {
		return nil, err
	}
	return journal, nil
}

// Record appends a receipt to the log.
func (j *Journal) Record(receipt Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开锚定日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("序列化锚定回执失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入锚定日志失败: %w", err)
	}

	j.receipts = append([]Receipt{receipt}, j.receipts...)
	if len(j.receipts) > journalKeep {
		j.receipts = j.receipts[:journalKeep]
	}
	return nil
}

// Latest returns the most recent receipts, newest first.
func (j *Journal) Latest(limit int) []Receipt {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if limit <= 0 || limit > len(j.receipts) {
		limit = len(j.receipts)
	}
	results := make([]Receipt, limit)
	copy(results, j.receipts[:limit])
	return results
}

func (j *Journal) loadFromDisk() error {
	file, err := os.OpenFile(j.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取锚定日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []Receipt
	for scanner.Scan() {
		var receipt Receipt
		if err := json.Unmarshal(scanner.Bytes(), &receipt); err != nil {
			continue
		}
		restored = append([]Receipt{receipt}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析锚定日志失败: %w", err)
	}
	if len(restored) > journalKeep {
		restored = restored[:journalKeep]
	}
	j.receipts = restored
	return nil
}
