package game

import (
	"context"
	"math"
	"time"

	"github.com/wfunc/word-duel/internal/errors"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SimilarityOracle 外部语义相似度服务
type SimilarityOracle interface {
	ScoreSimilarity(ctx context.Context, language, target, guess string) (float64, error)
}

// ScoreResult 评分结果
type ScoreResult struct {
	Score       float64  `json:"score"`
	OracleScore *float64 `json:"oracle_score"` // 相似度服务失败时为空
	Fallback    bool     `json:"fallback"`
	Exact       bool     `json:"exact"`
}

// Scorer 带超时、单次重试与词形回退的评分器
type Scorer struct {
	oracle  SimilarityOracle
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

// NewScorer 创建评分器，oracle 为空时直接使用词形相似度
func NewScorer(oracle SimilarityOracle, timeout time.Duration, retries int, logger *zap.Logger) *Scorer {
	if retries > 1 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		oracle:  oracle,
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}
}

// Score 对一次猜词评分，耗时不会超过回合截止时间
func (s *Scorer) Score(ctx context.Context, req *GuessRequest) ScoreResult {
	target := foldWord(req.Target)
	guess := foldWord(req.Guess)
	if target == guess {
		return ScoreResult{Score: 1, Exact: true}
	}

	if s.oracle == nil {
		return ScoreResult{Score: lexicalSimilarity(target, guess), Fallback: true}
	}

	// 截止时间是评分的硬上限
	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = errors.Wrap(ctx.Err(), errors.ErrOracleTimeout, "回合截止前未完成评分")
			break
		}
		score, err := s.call(ctx, req)
		if err == nil {
			v := score
			return ScoreResult{Score: score, OracleScore: &v}
		}
		lastErr = err
		s.logger.Warn("相似度服务调用失败",
			zap.String("session_id", req.SessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	fallback := lexicalSimilarity(target, guess)
	s.logger.Warn("相似度服务不可用，使用词形相似度",
		zap.String("session_id", req.SessionID),
		zap.Float64("score", fallback),
		zap.Error(lastErr))
	return ScoreResult{Score: fallback, Fallback: true}
}

func (s *Scorer) call(ctx context.Context, req *GuessRequest) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	score, err := s.oracle.ScoreSimilarity(ctx, req.Language, req.Target, req.Guess)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return 0, errors.Wrap(err, errors.ErrOracleTimeout)
		case context.Canceled:
			return 0, errors.Wrap(err, errors.ErrCanceled)
		}
		return 0, errors.Wrap(err, errors.ErrOracleUnavailable)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, errors.Newf(errors.ErrOracleInvalidScore, "%v", score)
	}
	return score, nil
}

// foldWord 大小写折叠并做 NFC 规范化
func foldWord(w string) string {
	return norm.NFC.String(cases.Fold().String(w))
}

// LexicalSimilarity 词形相似度：1 - 归一化编辑距离
func LexicalSimilarity(a, b string) float64 {
	return lexicalSimilarity(foldWord(a), foldWord(b))
}

func lexicalSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
