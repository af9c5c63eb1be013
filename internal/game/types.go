package game

import (
	"strings"
	"time"

	"github.com/wfunc/word-duel/internal/errors"
	"golang.org/x/text/language"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	StatusForming   SessionStatus = "forming"   // 组队中
	StatusActive    SessionStatus = "active"    // 对局中
	StatusCompleted SessionStatus = "completed" // 已结束（有结果）
	StatusAbandoned SessionStatus = "abandoned" // 已放弃
)

// Terminal 是否为终局状态
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Phase 对局中的回合阶段
type Phase string

const (
	PhaseNone         Phase = ""             // 未开始或已结束
	PhasePlaying      Phase = "playing"      // 有当前出题人，计时器按回合截止时间运行
	PhaseIntermission Phase = "intermission" // 本回合无人胜出，等待复活或加入
)

// SessionConfig 会话配置
type SessionConfig struct {
	Language            string        `json:"language"`
	TurnTimeLimit       time.Duration `json:"turn_time_limit"`
	LivesPerPlayer      int           `json:"lives_per_player"`
	RoundsToWin         int           `json:"rounds_to_win"`
	TeamCount           int           `json:"team_count"`
	MaxTeamSize         int           `json:"max_team_size"` // 0 表示不限
	SimilarityThreshold float64       `json:"similarity_threshold"`
}

// WithDefaults 用默认值补全未设置的字段
func (c SessionConfig) WithDefaults(d SessionConfig) SessionConfig {
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.TurnTimeLimit == 0 {
		c.TurnTimeLimit = d.TurnTimeLimit
	}
	if c.LivesPerPlayer == 0 {
		c.LivesPerPlayer = d.LivesPerPlayer
	}
	if c.RoundsToWin == 0 {
		c.RoundsToWin = d.RoundsToWin
	}
	if c.TeamCount == 0 {
		c.TeamCount = d.TeamCount
	}
	if c.TeamCount == 0 {
		c.TeamCount = 2
	}
	if c.MaxTeamSize == 0 {
		c.MaxTeamSize = d.MaxTeamSize
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	return c
}

// Validate 校验配置，语言标签会被规范化
func (c *SessionConfig) Validate() error {
	if c.TurnTimeLimit <= 0 {
		return errors.New(errors.ErrInvalidConfig, "回合时限必须大于0")
	}
	if c.LivesPerPlayer < 1 {
		return errors.New(errors.ErrInvalidConfig, "每人生命数不能小于1")
	}
	if c.RoundsToWin < 1 {
		return errors.New(errors.ErrInvalidConfig, "获胜回合数不能小于1")
	}
	if c.TeamCount < 2 {
		return errors.New(errors.ErrInvalidConfig, "队伍数量不能小于2")
	}
	if c.MaxTeamSize < 0 {
		return errors.New(errors.ErrInvalidConfig, "队伍人数上限不能为负数")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return errors.Newf(errors.ErrInvalidConfig, "相似度阈值 %.2f 不在 (0,1] 区间", c.SimilarityThreshold)
	}

	tag, err := CanonicalLanguage(c.Language)
	if err != nil {
		return err
	}
	c.Language = tag
	return nil
}

// CanonicalLanguage 解析并规范化 BCP 47 语言标签
func CanonicalLanguage(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "", errors.New(errors.ErrInvalidConfig, "语言不能为空")
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidConfig, "无效的语言标签 %q", lang)
	}
	return tag.String(), nil
}

// Member 队伍成员
type Member struct {
	UserID            string    `json:"user_id"`
	MistakesRemaining int       `json:"mistakes_remaining"`
	Active            bool      `json:"is_active"`
	Left              bool      `json:"left"`
	JoinOrder         int       `json:"join_order"`
	JoinedAt          time.Time `json:"joined_at"`
}

// Team 队伍，Members 按加入顺序排列
type Team struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	RoundsWon   int      `json:"rounds_won"`
	RevivalUsed bool     `json:"revival_used"`
	Members     []Member `json:"members"`
	Cursor      int      `json:"cursor"` // 上一位出题成员的 JoinOrder，-1 表示尚未轮到
}

// ActiveCount 活跃成员数
func (t *Team) ActiveCount() int {
	n := 0
	for i := range t.Members {
		if t.Members[i].Active {
			n++
		}
	}
	return n
}

// PresentCount 未离开的成员数
func (t *Team) PresentCount() int {
	n := 0
	for i := range t.Members {
		if !t.Members[i].Left {
			n++
		}
	}
	return n
}

// Eliminated 没有活跃成员即视为本回合被淘汰
func (t *Team) Eliminated() bool {
	return t.ActiveCount() == 0
}

// canRevive 是否还能通过复活恢复
func (t *Team) canRevive() bool {
	return !t.RevivalUsed && t.PresentCount() > 0
}

// Rejection reasons
const (
	ReasonBelowThreshold = "below_threshold"
)

// Guess 一次猜词记录，创建后不再修改
type Guess struct {
	ID              string    `json:"id"`
	Word            string    `json:"word"`
	UserID          string    `json:"user_id"`
	TeamID          string    `json:"team_id"`
	Round           int       `json:"round"`
	SubmittedAt     time.Time `json:"submitted_at"`
	IsCorrect       bool      `json:"is_correct"`
	Score           float64   `json:"score"`
	OracleScore     *float64  `json:"oracle_score"`
	Fallback        bool      `json:"fallback"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// RoundResult 回合结果，WinningTeamID 为空表示无人胜出
type RoundResult struct {
	Round         int       `json:"round"`
	WinningTeamID *string   `json:"winning_team_id"`
	Word          string    `json:"word"`
	CompletedAt   time.Time `json:"completed_at"`
	Note          string    `json:"note"`
}

// Session 会话状态，队伍与成员都归会话所有，相互之间用ID引用
type Session struct {
	ID                  string        `json:"id"`
	Config              SessionConfig `json:"config"`
	Status              SessionStatus `json:"status"`
	Phase               Phase         `json:"phase"`
	CurrentWord         string        `json:"current_word,omitempty"`
	CurrentRound        int           `json:"current_round"`
	WinningTeamID       *string       `json:"winning_team_id"`
	Teams               []Team        `json:"teams"`
	History             []RoundResult `json:"history"`
	Guesses             []Guess       `json:"guesses"` // 当前回合的猜词
	UsedWords           []string      `json:"used_words,omitempty"`
	// CurrentTurnPlayerID 出题人，仅在 Active 且 PhasePlaying 时非空。
	// 间歇阶段（PhaseIntermission）会话仍为 Active 但没有出题人，TurnDeadline 为间歇截止时间
	CurrentTurnPlayerID string `json:"current_turn_player_id"`
	LastTurnTeam        int           `json:"last_turn_team"`
	TurnStartedAt       time.Time     `json:"turn_started_at"`
	TurnDeadline        time.Time     `json:"turn_deadline"`
	NextJoinOrder       int           `json:"next_join_order"`
	EndReason           string        `json:"end_reason,omitempty"`
	CreatedBy           string        `json:"created_by"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Clone 深拷贝会话
func (s *Session) Clone() Session {
	c := *s
	if s.WinningTeamID != nil {
		id := *s.WinningTeamID
		c.WinningTeamID = &id
	}
	c.Teams = make([]Team, len(s.Teams))
	for i, t := range s.Teams {
		t.Members = append([]Member(nil), t.Members...)
		c.Teams[i] = t
	}
	c.History = make([]RoundResult, len(s.History))
	for i, r := range s.History {
		if r.WinningTeamID != nil {
			id := *r.WinningTeamID
			r.WinningTeamID = &id
		}
		c.History[i] = r
	}
	c.Guesses = cloneGuesses(s.Guesses)
	c.UsedWords = append([]string(nil), s.UsedWords...)
	return c
}

func cloneGuesses(in []Guess) []Guess {
	out := make([]Guess, len(in))
	for i, g := range in {
		if g.OracleScore != nil {
			v := *g.OracleScore
			g.OracleScore = &v
		}
		out[i] = g
	}
	return out
}

// teamIndex 根据ID查找队伍下标
func (s *Session) teamIndex(teamID string) int {
	for i := range s.Teams {
		if s.Teams[i].ID == teamID {
			return i
		}
	}
	return -1
}

// findMember 查找用户所在的队伍与成员下标
func (s *Session) findMember(userID string) (teamIdx, memberIdx int, ok bool) {
	for ti := range s.Teams {
		for mi := range s.Teams[ti].Members {
			if s.Teams[ti].Members[mi].UserID == userID {
				return ti, mi, true
			}
		}
	}
	return -1, -1, false
}

// Team 根据ID获取队伍
func (s *Session) Team(teamID string) (*Team, bool) {
	idx := s.teamIndex(teamID)
	if idx < 0 {
		return nil, false
	}
	return &s.Teams[idx], true
}

// Member 根据用户ID获取成员
func (s *Session) Member(userID string) (*Member, bool) {
	ti, mi, ok := s.findMember(userID)
	if !ok {
		return nil, false
	}
	return &s.Teams[ti].Members[mi], true
}

func (s *Session) activeMembers() int {
	n := 0
	for i := range s.Teams {
		n += s.Teams[i].ActiveCount()
	}
	return n
}

func (s *Session) presentMembers() int {
	n := 0
	for i := range s.Teams {
		n += s.Teams[i].PresentCount()
	}
	return n
}
