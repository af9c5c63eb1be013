package game

// turnRef 指向某个队伍中的某个成员
type turnRef struct {
	team   int
	member int
}

// nextTurn 计算下一位出题人：从 fromTeam 之后的队伍开始按队伍顺序轮转，
// 在队伍内部取游标之后的下一位活跃成员（循环）。fromTeam 自身排在最后。
func nextTurn(s *Session, fromTeam int) (turnRef, bool) {
	n := len(s.Teams)
	if n == 0 {
		return turnRef{}, false
	}
	if fromTeam < 0 || fromTeam >= n {
		fromTeam = n - 1
	}
	for k := 1; k <= n; k++ {
		ti := (fromTeam + k) % n
		if mi, ok := nextActiveMember(&s.Teams[ti]); ok {
			return turnRef{team: ti, member: mi}, true
		}
	}
	return turnRef{}, false
}

// nextActiveMember 队伍内游标之后的第一个活跃成员，没有则回到队首
func nextActiveMember(t *Team) (int, bool) {
	first := -1
	for i := range t.Members {
		m := &t.Members[i]
		if !m.Active {
			continue
		}
		if first < 0 {
			first = i
		}
		if m.JoinOrder > t.Cursor {
			return i, true
		}
	}
	if first >= 0 {
		return first, true
	}
	return -1, false
}

// firstTurn 对局第一手：第一支队伍的第一位活跃成员
func firstTurn(s *Session) (turnRef, bool) {
	for i := range s.Teams {
		s.Teams[i].Cursor = -1
	}
	return nextTurn(s, len(s.Teams)-1)
}
