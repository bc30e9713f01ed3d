package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/llm"
	"docvault-go/pkg/log"
)

// ErrEmptyQuestion 表示问题为空。
var ErrEmptyQuestion = errors.New("问题不能为空")

const (
	defaultRules = "Based on the following context, answer the question. " +
		"If the answer is not directly in the context, say that you do not have enough information " +
		"and do not try to make up an answer."
	defaultNoResultText = "I could not find relevant information in the indexed documents."
)

// AskResult 是一次问答的结果。Insufficient 为 true 时没有调用生成模型。
type AskResult struct {
	Answer       string                 `json:"answer"`
	Sources      []model.RetrievedChunk `json:"sources"`
	Insufficient bool                   `json:"insufficient"`
}

// AskService 基于检索结果生成答案，并记录问答历史。
type AskService interface {
	Ask(ctx context.Context, ownerID uint, question string) (*AskResult, error)
	History(ctx context.Context, ownerID uint) ([]model.AskRecord, error)
}

type askService struct {
	retrieval    RetrievalService
	llmClient    llm.Client
	history      repository.AskHistoryRepository
	rules        string
	noResultText string
	timeout      time.Duration
}

// NewAskService 创建一个新的 AskService 实例。
func NewAskService(retrieval RetrievalService, llmClient llm.Client, history repository.AskHistoryRepository, cfg config.LLMConfig) AskService {
	rules := cfg.Prompt.Rules
	if rules == "" {
		rules = defaultRules
	}
	noRes := cfg.Prompt.NoResultText
	if noRes == "" {
		noRes = defaultNoResultText
	}
	return &askService{
		retrieval:    retrieval,
		llmClient:    llmClient,
		history:      history,
		rules:        rules,
		noResultText: noRes,
		timeout:      cfg.Timeout,
	}
}

// Ask 检索相关分块并调用生成模型。没有任何可用分块时直接返回固定回答。
func (s *askService) Ask(ctx context.Context, ownerID uint, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	chunks, err := s.retrieval.Retrieve(ctx, ownerID, question)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(chunks) == 0 {
		log.Infof("[AskService] 未检索到相关分块, 返回固定回答, 用户ID: %d", ownerID)
		result := &AskResult{Answer: s.noResultText, Sources: []model.RetrievedChunk{}, Insufficient: true}
		s.record(ownerID, question, result)
		return result, nil
	}

	prompt := s.buildPrompt(chunks, question)
	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	answer, err := s.llmClient.Generate(genCtx, prompt)
	if err != nil {
		log.Errorf("[AskService] 生成答案失败, 用户ID: %d, Error: %v", ownerID, err)
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	result := &AskResult{Answer: strings.TrimSpace(answer), Sources: chunks}
	s.record(ownerID, question, result)
	return result, nil
}

// History 返回用户最近的问答记录。
func (s *askService) History(ctx context.Context, ownerID uint) ([]model.AskRecord, error) {
	return s.history.List(ctx, ownerID)
}

func (s *askService) buildPrompt(chunks []model.RetrievedChunk, question string) string {
	var b strings.Builder
	b.WriteString(s.rules)
	b.WriteString("\n\nContext:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, c.OriginalFilename, c.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// record 保存问答记录，失败只记日志。
func (s *askService) record(ownerID uint, question string, result *AskResult) {
	sources := make([]string, 0, len(result.Sources))
	seen := map[string]bool{}
	for _, c := range result.Sources {
		if !seen[c.OriginalFilename] {
			seen[c.OriginalFilename] = true
			sources = append(sources, c.OriginalFilename)
		}
	}
	// 使用后台上下文，即使原始请求被取消也保存已经生成的答案
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Append(ctx, ownerID, model.NewAskRecord(question, result.Answer, sources)); err != nil {
		log.Errorf("[AskService] 保存问答历史失败: %v", err)
	}
}
