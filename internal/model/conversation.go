package model

import "time"

// AskRecord 代表存储在 Redis 中的一次问答记录。
type AskRecord struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"` // 命中分块所属的原始文件名
	Timestamp LocalTime `json:"timestamp"`
}

// NewAskRecord 以当前时间创建一条问答记录。
func NewAskRecord(question, answer string, sources []string) AskRecord {
	return AskRecord{
		Question:  question,
		Answer:    answer,
		Sources:   sources,
		Timestamp: LocalTime(time.Now()),
	}
}
