// Package classifier decides whether a chat message is a client request worth
// relaying, a provider offer, or unrelated chatter.
//
// Matching is keyword based. All patterns are compiled once by New and the
// resulting Classifier is immutable and safe for concurrent use.
package classifier

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Tier is the outcome of classifying a message.
type Tier string

const (
	// TierRelevant marks a client request that should be forwarded.
	TierRelevant Tier = "relevant"
	// TierNotRelevantOffer marks a provider offer or an excluded platform.
	TierNotRelevantOffer Tier = "not_relevant_offer"
	// TierNotRelevantNone marks a message with no useful signal.
	TierNotRelevantNone Tier = "not_relevant_none"
)

// Reason tags attached to a Result. They are diagnostic only.
const (
	ReasonPlatformExcluded = "platform_excluded"
	ReasonOfferKeyword     = "offer_keyword"
	ReasonProximityMatch   = "prox_match"
	ReasonRoleAndSeek      = "role_and_seek"
	ReasonNoMatch          = "no_match"
)

// MaxProximityChars is the largest window the regexp engine can express as a
// bounded repetition.
const MaxProximityChars = 1000

// regexMetaChars are the characters that turn a keyword entry into a raw
// regex fragment instead of a literal phrase.
const regexMetaChars = `\.^$*+?[](){}|`

// Keywords holds the four externally configured word lists.
type Keywords struct {
	ExcludePlatforms []string `yaml:"exclude_platforms" json:"exclude_platforms"`
	ExcludeKeywords  []string `yaml:"exclude_keywords" json:"exclude_keywords"`
	RoleKeywords     []string `yaml:"role_keywords" json:"role_keywords"`
	SeekingKeywords  []string `yaml:"seeking_keywords" json:"seeking_keywords"`
}

// Result is the classification of one message.
type Result struct {
	Tier   Tier
	Reason string
}

// Relevant reports whether the message should be forwarded.
func (r Result) Relevant() bool {
	return r.Tier == TierRelevant
}

// Classifier holds the compiled matchers. Nil matchers never match.
type Classifier struct {
	platforms []string
	exclude   *regexp.Regexp
	role      *regexp.Regexp
	seek      *regexp.Regexp
	proximity *regexp.Regexp
}

// New compiles the keyword lists into a Classifier. Empty entries are ignored.
// It fails when an exclude fragment is not a valid regular expression or the
// proximity window is out of range.
func New(kw Keywords, proximityChars int) (*Classifier, error) {
	if proximityChars < 0 || proximityChars > MaxProximityChars {
		return nil, fmt.Errorf("proximity chars must be between 0 and %d, got %d", MaxProximityChars, proximityChars)
	}

	c := &Classifier{}
	for _, p := range nonEmpty(kw.ExcludePlatforms) {
		c.platforms = append(c.platforms, strings.ToLower(p))
	}

	var err error
	if c.exclude, err = compileAny(nonEmpty(kw.ExcludeKeywords)); err != nil {
		return nil, fmt.Errorf("failed to compile exclude keywords: %w", err)
	}

	roles := nonEmpty(kw.RoleKeywords)
	seeks := nonEmpty(kw.SeekingKeywords)
	if c.role, err = compileAny(roles); err != nil {
		return nil, fmt.Errorf("failed to compile role keywords: %w", err)
	}
	if c.seek, err = compileAny(seeks); err != nil {
		return nil, fmt.Errorf("failed to compile seeking keywords: %w", err)
	}
	if c.proximity, err = compileProximity(roles, seeks, proximityChars); err != nil {
		return nil, fmt.Errorf("failed to compile proximity pattern: %w", err)
	}

	slog.Debug("Classifier compiled",
		"platforms", len(c.platforms),
		"exclude_keywords", len(kw.ExcludeKeywords),
		"role_keywords", len(roles),
		"seeking_keywords", len(seeks),
		"proximity_chars", proximityChars)
	return c, nil
}

// Classify maps normalized text to a tier. The first matching rule wins:
// excluded platform, offer phrase, role/seeking proximity, role and seeking
// anywhere, otherwise no match.
func (c *Classifier) Classify(normalized string) Result {
	for _, p := range c.platforms {
		if strings.Contains(normalized, p) {
			return Result{Tier: TierNotRelevantOffer, Reason: ReasonPlatformExcluded + ":" + p}
		}
	}
	if c.exclude != nil && c.exclude.MatchString(normalized) {
		return Result{Tier: TierNotRelevantOffer, Reason: ReasonOfferKeyword}
	}
	if c.proximity != nil && c.proximity.MatchString(normalized) {
		return Result{Tier: TierRelevant, Reason: ReasonProximityMatch}
	}
	// Loose tier: no distance bound between the two keyword classes.
	if c.role != nil && c.seek != nil && c.role.MatchString(normalized) && c.seek.MatchString(normalized) {
		return Result{Tier: TierRelevant, Reason: ReasonRoleAndSeek}
	}
	return Result{Tier: TierNotRelevantNone, Reason: ReasonNoMatch}
}

// compileAny builds a case-insensitive alternation. Entries containing regex
// metacharacters are used verbatim; everything else is quoted.
func compileAny(words []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if strings.ContainsAny(w, regexMetaChars) {
			parts = append(parts, w)
		} else {
			parts = append(parts, regexp.QuoteMeta(w))
		}
	}
	return regexp.Compile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
}

// compileProximity matches a role keyword followed within prox characters by a
// seeking keyword, or the reverse. Keywords are always quoted here.
func compileProximity(roles, seeks []string, prox int) (*regexp.Regexp, error) {
	if len(roles) == 0 || len(seeks) == 0 {
		return nil, nil
	}
	r := quoteAll(roles)
	s := quoteAll(seeks)
	pat := fmt.Sprintf(`(?is)(?:(?:%s).{0,%d}(?:%s))|(?:(?:%s).{0,%d}(?:%s))`, r, prox, s, s, prox, r)
	return regexp.Compile(pat)
}

func quoteAll(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func nonEmpty(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w) != "" {
			out = append(out, w)
		}
	}
	return out
}
