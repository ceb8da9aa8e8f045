package match

// ModeRules are the player-count limits of one game mode.
type ModeRules struct {
	MinPlayers  int
	MaxPlayers  int
	BracketSize int // TOURNAMENT group size
}

// DefaultModeRules applies to game modes the rule book does not know.
var DefaultModeRules = ModeRules{MinPlayers: 2, MaxPlayers: 4, BracketSize: 8}

// RuleBook maps game modes to their rules.
type RuleBook map[string]ModeRules

// DefaultRuleBook returns the built-in game modes.
func DefaultRuleBook() RuleBook {
	return RuleBook{
		"1v1":           {MinPlayers: 2, MaxPlayers: 2, BracketSize: 8},
		"2v2":           {MinPlayers: 2, MaxPlayers: 4, BracketSize: 8},
		"5v5":           {MinPlayers: 2, MaxPlayers: 10, BracketSize: 10},
		"battle_royale": {MinPlayers: 2, MaxPlayers: 16, BracketSize: 16},
	}
}

// For returns the rules of gameMode, falling back to DefaultModeRules.
// MinPlayers is never below two.
func (b RuleBook) For(gameMode string) ModeRules {
	r, ok := b[gameMode]
	if !ok {
		r = DefaultModeRules
	}
	if r.MinPlayers < 2 {
		r.MinPlayers = 2
	}
	if r.MaxPlayers < r.MinPlayers {
		r.MaxPlayers = r.MinPlayers
	}
	if r.BracketSize < r.MinPlayers {
		r.BracketSize = r.MaxPlayers
	}
	return r
}
