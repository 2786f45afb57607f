package multicast

import (
	"errors"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
)

const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "*"

	defaultPatternCacheSize = 1024
)

// ErrInvalidMulticastID is returned for multicast ids that cannot be compiled
var ErrInvalidMulticastID = errors.New("invalid multicast id")

// patternCompiler turns multicast id templates into anchored regular expressions.
// A multicast id is "<providerParticipantId>/<multicastName>[/<partition>...]".
// Partition "+" matches exactly one partition; a trailing "*" matches any number
// of remaining partitions, including none.
type patternCompiler struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

func newPatternCompiler(size int) *patternCompiler {
	if size <= 0 {
		size = defaultPatternCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &patternCompiler{cache: cache}
}

// Compile returns the matcher of multicastID.
func (c *patternCompiler) Compile(multicastID string) (*regexp.Regexp, error) {
	if re, ok := c.cache.Get(multicastID); ok {
		return re, nil
	}

	expr, err := patternExpression(multicastID)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, oops.In("multicast").With("multicast_id", multicastID).Wrapf(ErrInvalidMulticastID, "compile: %v", err)
	}

	c.cache.Add(multicastID, re)
	return re, nil
}

func patternExpression(multicastID string) (string, error) {
	segments := strings.Split(multicastID, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", oops.In("multicast").With("multicast_id", multicastID).
			Wrapf(ErrInvalidMulticastID, "expected <provider>/<name>[/<partition>...]")
	}
	for i, s := range segments[:2] {
		if s == singleLevelWildcard || s == multiLevelWildcard {
			return "", oops.In("multicast").With("multicast_id", multicastID).
				Wrapf(ErrInvalidMulticastID, "wildcard not allowed in segment %d", i)
		}
	}

	var b strings.Builder
	b.WriteString("^")
	b.WriteString(regexp.QuoteMeta(segments[0]))
	b.WriteString("/")
	b.WriteString(regexp.QuoteMeta(segments[1]))

	partitions := segments[2:]
	for i, p := range partitions {
		switch p {
		case singleLevelWildcard:
			b.WriteString("/[^/]+")
		case multiLevelWildcard:
			if i != len(partitions)-1 {
				return "", oops.In("multicast").With("multicast_id", multicastID).
					Wrapf(ErrInvalidMulticastID, "%q is only allowed as the last partition", multiLevelWildcard)
			}
			b.WriteString("(/.*)?")
		case "":
			return "", oops.In("multicast").With("multicast_id", multicastID).
				Wrapf(ErrInvalidMulticastID, "empty partition")
		default:
			b.WriteString("/")
			b.WriteString(regexp.QuoteMeta(p))
		}
	}
	b.WriteString("$")
	return b.String(), nil
}
