package pattern

import "github.com/MrWong99/hushgate/pkg/provider/moderation"

// Rule is a single local detection rule. Exactly one of Pattern or Keyword is
// set.
type Rule struct {
	// Category is the class reported when the rule matches.
	Category moderation.Category `yaml:"category"`

	// Pattern is an RE2 regular expression evaluated against the normalised
	// text. Matching is case-insensitive.
	Pattern string `yaml:"pattern,omitempty"`

	// Keyword is a single word compared against each normalised token after
	// common character substitutions (0→o, 1→i, 3→e, 4→a, 5→s, 7→t, @→a, $→s)
	// have been undone.
	Keyword string `yaml:"keyword,omitempty"`

	// MaxEdits allows up to this many Damerau-Levenshtein edits between token
	// and Keyword. Only applied to tokens of at least six characters.
	MaxEdits int `yaml:"max_edits,omitempty"`

	// Phonetic additionally matches tokens whose Double Metaphone code equals
	// the keyword's.
	Phonetic bool `yaml:"phonetic,omitempty"`
}

// descriptions are the human-readable reasons reported per category.
var descriptions = map[moderation.Category]string{
	moderation.CategoryExplicitContent:   "Explicit sexual/inappropriate language detected",
	moderation.CategorySuggestiveContext: "Suggestive/sexual context detected",
	moderation.CategoryHarassment:        "Harassment/threatening language detected",
	moderation.CategoryBodyShaming:       "Body shaming/appearance-based harassment detected",
	moderation.CategoryEmotionalAbuse:    "Emotional abuse/manipulation detected",
	moderation.CategoryRacismHateSpeech:  "Racism/hate speech detected",
	moderation.CategoryTransactional:     "Transactional/sugar-dating language detected",
	moderation.CategorySexismTransphobia: "Sexism/misogyny/transphobia detected",
}

// Describe returns the reason text for a pattern category.
func Describe(c moderation.Category) string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return string(c) + " pattern matched"
}

// you matches second-person address forms used by the abuse rules.
const you = `(?:you(?:'re|\s+are)|ur|u\s+r|your\s+so)`

// DefaultRules returns the built-in rule set for dating conversations.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultRules))
	return append(rules, defaultRules...)
}

var defaultRules = []Rule{
	// Explicit content.
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:fuck|fucking|fucked|fuk)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:pussy|dick|cock|penis|vagina|tits|boobs)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:cum|cumming|orgasm)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:horny|aroused|erect)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:naked|nude|nudes|undress)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\bp[o0]rn\w*\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\bsend\s+(?:me\s+)?(?:pics|nudes|noods)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b(?:suck|lick|swallow)\b.*\b(?:you|me|it)\b`},
	{Category: moderation.CategoryExplicitContent, Pattern: `\b69\b`},
	{Category: moderation.CategoryExplicitContent, Keyword: "pussy"},
	{Category: moderation.CategoryExplicitContent, Keyword: "fuck"},
	{Category: moderation.CategoryExplicitContent, Keyword: "nudes"},
	{Category: moderation.CategoryExplicitContent, Keyword: "blowjob", MaxEdits: 1},
	{Category: moderation.CategoryExplicitContent, Keyword: "handjob", MaxEdits: 1},
	{Category: moderation.CategoryExplicitContent, Keyword: "masturbate", MaxEdits: 2},

	// Suggestive context.
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bwithout\s+(?:your\s+|them|those\s+)?(?:clothes|clothing)\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bcan'?t\s+imagine\s+how\s+(?:good|sexy|hot)\s+you\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bhow\s+(?:good|sexy|hot)\s+you(?:'ll|\s+will)\s+look\s+without\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\blook\s+(?:good|sexy|hot)\s+without\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bwhat\s+you'?re\s+wearing\s+under\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bunderneath\s+(?:those|your)\s+(?:clothes|clothing)\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\b(?:bedroom|shower|bath)\b.*\b(?:together|with\s+me)\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bslowly\b.*\b(?:kiss|touch|lick)\b.*\bdown\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bfrom\b.*\blips\b.*\bdown\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bmake\s+you\s+moan\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\b(?:dirty|naughty)\s+(?:things|thoughts|ideas)\b`},
	{Category: moderation.CategorySuggestiveContext, Pattern: `\bturn(?:s|ed)?\s+me\s+on\b`},

	// Harassment.
	{Category: moderation.CategoryHarassment, Pattern: `\b(?:bitch|slut|whore|skank)s?\b`},
	{Category: moderation.CategoryHarassment, Pattern: `\bi(?:'ll|\s+will|\s+am\s+going\s+to|'m\s+gonna)\s+(?:kill|hurt|rape|stab)\s+you\b`},
	{Category: moderation.CategoryHarassment, Pattern: `\bi\s+know\s+where\s+you\s+live\b`},

	// Body shaming.
	{Category: moderation.CategoryBodyShaming, Pattern: `\b` + you + `\b[^.!?]{0,40}\b(?:ugly|fat|gross|disgusting|hideous|obese|fugly)\b`},
	{Category: moderation.CategoryBodyShaming, Pattern: `\b(?:ugly|fat|hideous)\s+(?:cow|pig|whale|loser|troll)\b`},
	{Category: moderation.CategoryBodyShaming, Pattern: `\b(?:fatty|fatso|lardass|landwhale)\b`},
	{Category: moderation.CategoryBodyShaming, Pattern: `\b(?:lose|losing)\s+(?:some\s+)?weight\b`},
	{Category: moderation.CategoryBodyShaming, Pattern: `\bno\s*(?:one|body)\s+(?:would|will)\s+(?:date|want|love)\s+(?:someone\s+)?(?:as\s+|so\s+)?(?:ugly|fat)\b`},

	// Emotional abuse.
	{Category: moderation.CategoryEmotionalAbuse, Pattern: `\b` + you + `\b[^.!?]{0,40}\b(?:worthless|pathetic|useless|a\s+loser|an\s+idiot|a\s+waste|stupid|trash)\b`},
	{Category: moderation.CategoryEmotionalAbuse, Pattern: `\bno\s*(?:one|body)\s+(?:will|would|could)\s+ever\s+(?:love|want|date)\s+you\b`},
	{Category: moderation.CategoryEmotionalAbuse, Pattern: `\byou\s+deserve\s+to\s+be\s+alone\b`},
	{Category: moderation.CategoryEmotionalAbuse, Pattern: `\b(?:kill|hurt)\s+yourself\b|\bkys\b`},
	{Category: moderation.CategoryEmotionalAbuse, Pattern: `\byou(?:'re|\s+are)\s+lucky\s+(?:i|anyone)\s+(?:even\s+)?talks?\s+to\s+you\b`},

	// Racism and hate speech.
	{Category: moderation.CategoryRacismHateSpeech, Pattern: `\b(?:n[i1]gg(?:er|a)s?|ch[i1]nks?|sp[i1]cs?|k[i1]kes?|wetbacks?|gooks?|towelheads?|beaners?)\b`},
	{Category: moderation.CategoryRacismHateSpeech, Pattern: `\bgo\s+back\s+to\s+(?:your|ur)\s+(?:own\s+)?country\b`},
	{Category: moderation.CategoryRacismHateSpeech, Pattern: `\b(?:all|those)\s+(?:blacks|asians|mexicans|arabs|jews|muslims|indians)\s+are\b`},
	{Category: moderation.CategoryRacismHateSpeech, Keyword: "nigger"},

	// Transactional and sugar dating.
	{Category: moderation.CategoryTransactional, Pattern: `\bsugar\s*(?:daddy|daddies|mommy|mama|baby|babies)\b`},
	{Category: moderation.CategoryTransactional, Pattern: `\b(?:pay|paying|paid)\s+(?:you|me)\s+(?:for|to)\s+(?:sex|meet|a\s+date|your\s+time)\b`},
	{Category: moderation.CategoryTransactional, Pattern: `\bsend\s+(?:me\s+)?(?:money|cash|gift\s*cards?|btc|crypto)\b`},
	{Category: moderation.CategoryTransactional, Pattern: `\b(?:allowance|pay\s*pig|findom|pay\s+per\s+meet|ppm)\b`},
	{Category: moderation.CategoryTransactional, Pattern: `\bhow\s+much\s+(?:for\s+(?:a\s+)?(?:night|hour|meet)|do\s+you\s+charge)\b`},

	// Sexism, misogyny and transphobia.
	{Category: moderation.CategorySexismTransphobia, Pattern: `\bwomen\s+(?:belong|should\s+stay)\s+in\s+the\s+kitchen\b`},
	{Category: moderation.CategorySexismTransphobia, Pattern: `\b(?:all\s+)?(?:women|girls|females)\s+are\s+(?:just\s+)?(?:gold\s*diggers|whores|sluts|stupid|property)\b`},
	{Category: moderation.CategorySexismTransphobia, Pattern: `\b(?:trann(?:y|ies)|shemales?|ladyboys?)\b`},
	{Category: moderation.CategorySexismTransphobia, Pattern: `\b` + you + `\s+not\s+a\s+real\s+(?:woman|man|girl)\b`},
	{Category: moderation.CategorySexismTransphobia, Pattern: `\bmake\s+me\s+a\s+sandwich\b`},
}
