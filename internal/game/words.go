package game

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/wfunc/word-duel/internal/errors"
)

// WordSource 出题词源
type WordSource interface {
	// NextWord 返回一个未在 exclude 中出现过的词，词库用尽时允许重复
	NextWord(ctx context.Context, language string, exclude []string) (string, error)
	// Supports 是否支持该语言（规范化后的标签）
	Supports(language string) bool
}

// StaticWordSource 按语言配置的静态词库
type StaticWordSource struct {
	mu    sync.Mutex
	words map[string][]string
	rnd   *rand.Rand
}

// NewStaticWordSource 创建静态词库，语言标签会被规范化，非法标签被忽略
func NewStaticWordSource(words map[string][]string, seed uint64) *StaticWordSource {
	ws := &StaticWordSource{
		words: make(map[string][]string, len(words)),
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for lang, list := range words {
		tag, err := CanonicalLanguage(lang)
		if err != nil {
			continue
		}
		for _, w := range list {
			if w = strings.TrimSpace(w); w != "" {
				ws.words[tag] = append(ws.words[tag], w)
			}
		}
	}
	return ws
}

// Supports 是否配置了该语言的词库
func (ws *StaticWordSource) Supports(language string) bool {
	return len(ws.words[language]) > 0
}

// NextWord 随机选取一个未使用过的词
func (ws *StaticWordSource) NextWord(ctx context.Context, language string, exclude []string) (string, error) {
	list := ws.words[language]
	if len(list) == 0 {
		return "", errors.Newf(errors.ErrWordSource, "语言 %s 没有词库", language)
	}

	used := make(map[string]struct{}, len(exclude))
	for _, w := range exclude {
		used[w] = struct{}{}
	}
	candidates := make([]string, 0, len(list))
	for _, w := range list {
		if _, ok := used[w]; !ok {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		candidates = list
	}

	ws.mu.Lock()
	idx := ws.rnd.IntN(len(candidates))
	ws.mu.Unlock()

	return candidates[idx], nil
}
