// Package identifier defines the owner/name addressing scheme for mirrors
// and the selection patterns that expand into sets of them.
package identifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// partPattern matches one owner or repository name as the remote host
// accepts them: a leading alphanumeric, then alphanumerics, underscore,
// dot, or dash. The leading alphanumeric also rules out "." and ".."
// path components, which matters because identifiers address directories
// under the mirror root.
var partPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Identifier addresses a single mirror as "owner/name".
type Identifier struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// Parse validates raw as an "owner/name" mirror identifier. Anything that
// does not match the grammar exactly is rejected, including empty parts,
// extra slashes, and names that could escape the mirror root.
func Parse(raw string) (Identifier, error) {
	owner, name, found := strings.Cut(raw, "/")
	if !found || strings.Contains(name, "/") {
		return Identifier{}, fmt.Errorf("invalid mirror identifier %q: expected owner/name", raw)
	}
	if !partPattern.MatchString(owner) || !partPattern.MatchString(name) {
		return Identifier{}, fmt.Errorf("invalid mirror identifier %q", raw)
	}
	return Identifier{Owner: owner, Name: name}, nil
}

func (id Identifier) String() string {
	return id.Owner + "/" + id.Name
}

// IsZero reports whether id is the zero identifier.
func (id Identifier) IsZero() bool {
	return id.Owner == "" && id.Name == ""
}

// Sort orders identifiers lexicographically by their string form, giving
// callers a deterministic iteration order.
func Sort(ids []Identifier) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

// Pattern selects mirrors: either a literal identifier, or "owner/*" which
// expands to every repository currently belonging to that owner.
type Pattern struct {
	Owner string
	Name  string // "*" for a wildcard pattern
}

// ParsePattern validates raw as a selection pattern. The owner part always
// follows the identifier grammar; the name part is either a valid name or
// the single character "*".
func ParsePattern(raw string) (Pattern, error) {
	owner, name, found := strings.Cut(raw, "/")
	if !found || strings.Contains(name, "/") {
		return Pattern{}, fmt.Errorf("invalid selection pattern %q: expected owner/name or owner/*", raw)
	}
	if !partPattern.MatchString(owner) {
		return Pattern{}, fmt.Errorf("invalid selection pattern %q", raw)
	}
	if name != "*" && !partPattern.MatchString(name) {
		return Pattern{}, fmt.Errorf("invalid selection pattern %q", raw)
	}
	return Pattern{Owner: owner, Name: name}, nil
}

// ParsePatterns parses each element of raw, failing on the first invalid
// pattern.
func ParsePatterns(raw []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePattern(r)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (p Pattern) String() string {
	return p.Owner + "/" + p.Name
}

// Wildcard reports whether p expands to all of an owner's repositories.
func (p Pattern) Wildcard() bool {
	return p.Name == "*"
}

// Match reports whether id falls under this pattern.
func (p Pattern) Match(id Identifier) bool {
	ok, err := doublestar.Match(p.String(), id.String())
	return err == nil && ok
}
