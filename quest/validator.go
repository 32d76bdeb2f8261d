package quest

import (
	"crypto/subtle"
	"regexp"
	"strings"
	"sync"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/model"
)

var patterns sync.Map // keyword -> *regexp.Regexp

// compile returns the case-insensitive matcher for one keyword. A keyword that
// is not a valid expression is matched literally.
func compile(keyword string) *regexp.Regexp {
	if re, ok := patterns.Load(keyword); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + keyword)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(keyword))
	}
	patterns.Store(keyword, re)
	return re
}

// MatchKeywords reports whether text matches every comma-separated pattern in
// keywords. Patterns are searched for anywhere in text, ignoring case. An
// empty keyword list matches anything.
func MatchKeywords(keywords, text string) bool {
	for _, kw := range strings.Split(keywords, ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if !compile(kw).MatchString(text) {
			return false
		}
	}
	return true
}

// CheckSolution accepts guess when it matches all of the puzzle's keywords.
func CheckSolution(p *model.Puzzle, guess string) error {
	if !MatchKeywords(p.Keywords, guess) {
		return apperr.InvalidCredential("incorrect answer for puzzle %q", p.Name)
	}
	return nil
}

// CheckActivation compares codes byte for byte.
func CheckActivation(stored, supplied string) error {
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1 {
		return apperr.InvalidCredential("activation code does not match")
	}
	return nil
}
