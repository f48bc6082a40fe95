// Package rules provides the locale-keyed rule tables that drive text
// analysis. All regex patterns are compiled once when the registry is built
// and shared across every monitoring session.
package rules

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/errors"
)

// Category classifies a violation rule
type Category string

const (
	CategoryProfanity    Category = "profanity"
	CategoryScam         Category = "scam"
	CategoryPersonalInfo Category = "personal_info"
)

// Emotion identifies an emotion lexicon
type Emotion string

const (
	EmotionAnger    Emotion = "anger"
	EmotionFear     Emotion = "fear"
	EmotionDistress Emotion = "distress"
	EmotionThreat   Emotion = "threat"
)

// ViolationRule holds a compiled pattern with its scoring metadata
type ViolationRule struct {
	Name     string
	Category Category
	Regex    *regexp.Regexp
	Weight   float64
	Severity string
}

// RuleSet holds all rules for a single locale
type RuleSet struct {
	Locale     string
	violations []*ViolationRule
	emotions   map[Emotion][]string
}

// ViolationRules returns the compiled violation rules for this locale
func (rs *RuleSet) ViolationRules() []*ViolationRule {
	return rs.violations
}

// EmotionTerms returns the lexicon for the given emotion
func (rs *RuleSet) EmotionTerms(emotion Emotion) []string {
	return rs.emotions[emotion]
}

// Registry holds per-locale rule sets, compiled once at construction
type Registry struct {
	mu            sync.RWMutex
	locales       map[string]*RuleSet
	defaultLocale string
	logger        *logrus.Entry
}

// NewRegistry builds the registry with the built-in rule tables compiled
func NewRegistry(logger *logrus.Logger, defaultLocale string) *Registry {
	if defaultLocale == "" {
		defaultLocale = "en"
	}

	r := &Registry{
		locales:       make(map[string]*RuleSet),
		defaultLocale: defaultLocale,
		logger:        logger.WithField("component", "rules"),
	}

	r.locales["en"] = buildEnglishRules()
	r.locales["ar"] = buildArabicRules()

	total := 0
	for _, rs := range r.locales {
		total += len(rs.violations)
	}
	r.logger.WithFields(logrus.Fields{
		"locales":        len(r.locales),
		"rules_compiled": total,
	}).Info("Rule registry initialized")

	return r
}

// ForLocale returns the rule set for the locale, falling back to the default
func (r *Registry) ForLocale(locale string) *RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rs, ok := r.locales[normalizeLocale(locale)]; ok {
		return rs
	}
	return r.locales[r.defaultLocale]
}

// RegisterViolationRule compiles and adds a custom rule to a locale, creating
// the locale rule set if needed
func (r *Registry) RegisterViolationRule(locale, name string, category Category, pattern string, weight float64, severity string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return errors.Wrap(err, "compiling custom violation rule").
			WithField("rule", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	locale = normalizeLocale(locale)
	rs, ok := r.locales[locale]
	if !ok {
		rs = &RuleSet{
			Locale:   locale,
			emotions: make(map[Emotion][]string),
		}
		r.locales[locale] = rs
	}

	rs.violations = append(rs.violations, &ViolationRule{
		Name:     name,
		Category: category,
		Regex:    re,
		Weight:   weight,
		Severity: severity,
	})

	r.logger.WithFields(logrus.Fields{
		"locale":   locale,
		"rule":     name,
		"category": category,
	}).Info("Custom violation rule registered")

	return nil
}

// RegisterEmotionTerms appends terms to a locale's emotion lexicon
func (r *Registry) RegisterEmotionTerms(locale string, emotion Emotion, terms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	locale = normalizeLocale(locale)
	rs, ok := r.locales[locale]
	if !ok {
		rs = &RuleSet{
			Locale:   locale,
			emotions: make(map[Emotion][]string),
		}
		r.locales[locale] = rs
	}

	rs.emotions[emotion] = append(rs.emotions[emotion], terms...)
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	return locale
}

func mustRule(name string, category Category, pattern string, weight float64, severity string) *ViolationRule {
	return &ViolationRule{
		Name:     name,
		Category: category,
		Regex:    regexp.MustCompile("(?i)" + pattern),
		Weight:   weight,
		Severity: severity,
	}
}

// Category weights: profanity 15, scam 30, personal_info 25. Each rule match
// contributes its weight to the violation score.
func buildEnglishRules() *RuleSet {
	return &RuleSet{
		Locale: "en",
		violations: []*ViolationRule{
			// Profanity
			mustRule("profanity_slurs", CategoryProfanity,
				`\b(bitch|bastard|asshole|motherfucker|fuck(er|ing)?|shit|cunt|whore|slut)\b`, 15, "low"),
			mustRule("profanity_insults", CategoryProfanity,
				`\b(idiot|moron|stupid (bitch|cow|whore)|piece of (shit|crap))\b`, 15, "low"),

			// Scam / payment diversion
			mustRule("scam_send_money", CategoryScam,
				`\b(send|transfer|wire)\s+(me\s+)?(the\s+)?(money|cash|funds|payment)\b`, 30, "high"),
			mustRule("scam_bank_account", CategoryScam,
				`\b(bank|my)\s+account\b`, 30, "high"),
			mustRule("scam_offplatform_payment", CategoryScam,
				`\b(western union|moneygram|gift ?cards?|crypto(currency)?|bitcoin|usdt|paypal me|cash ?app|venmo|zelle)\b`, 30, "high"),
			mustRule("scam_pay_outside", CategoryScam,
				`\b(pay|deal|book|contact)\s+(me\s+)?(outside|off|directly|off[- ]platform)\b`, 30, "high"),
			mustRule("scam_urgency", CategoryScam,
				`\b(urgent(ly)?|right now|immediately)\b.{0,40}\b(pay|send|transfer)\b`, 30, "medium"),

			// Personal information solicitation / exposure
			mustRule("pii_credit_card", CategoryPersonalInfo,
				`\b(?:\d[ -]*?){13,19}\b`, 25, "high"),
			mustRule("pii_phone_number", CategoryPersonalInfo,
				`\b(\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`, 25, "medium"),
			mustRule("pii_email", CategoryPersonalInfo,
				`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, 25, "medium"),
			mustRule("pii_ssn", CategoryPersonalInfo,
				`\b\d{3}-\d{2}-\d{4}\b`, 25, "high"),
			mustRule("pii_solicitation", CategoryPersonalInfo,
				`\b(give|send|tell)\s+me\s+your\s+(address|phone|number|password|card|id)\b`, 25, "high"),
		},
		emotions: map[Emotion][]string{
			EmotionAnger: {
				"angry", "furious", "hate", "rage", "pissed", "annoyed",
				"bitch", "damn", "fed up", "sick of",
			},
			EmotionFear: {
				"scared", "afraid", "terrified", "frightened", "worried",
				"anxious", "panic", "nervous",
			},
			EmotionDistress: {
				"help", "desperate", "crying", "hopeless", "can't take",
				"suicidal", "hurt myself", "overwhelmed", "please stop",
			},
			EmotionThreat: {
				"kill", "hurt you", "find you", "make you pay", "destroy",
				"beat you", "watch your back", "or else",
			},
		},
	}
}

func buildArabicRules() *RuleSet {
	return &RuleSet{
		Locale: "ar",
		violations: []*ViolationRule{
			mustRule("profanity_ar", CategoryProfanity,
				`(كلب|حقير|حمار|غبي|قذر)`, 15, "low"),
			mustRule("scam_send_money_ar", CategoryScam,
				`(حول|ارسل|أرسل)\s*(لي)?\s*(فلوس|مال|المبلغ|الأموال)`, 30, "high"),
			mustRule("scam_bank_account_ar", CategoryScam,
				`حساب(ي)?\s*(البنكي|بنكي)`, 30, "high"),
			mustRule("pii_credit_card", CategoryPersonalInfo,
				`\b(?:\d[ -]*?){13,19}\b`, 25, "high"),
			mustRule("pii_phone_ar", CategoryPersonalInfo,
				`(\+?\d{1,3}[-. ]?)?\d{9,12}`, 25, "medium"),
		},
		emotions: map[Emotion][]string{
			EmotionAnger:    {"غاضب", "زعلان", "اكرهك", "أكرهك"},
			EmotionFear:     {"خايف", "خائف", "مرعوب", "قلقان"},
			EmotionDistress: {"ساعدني", "ساعدوني", "يائس", "تعبت"},
			EmotionThreat:   {"اقتلك", "أقتلك", "اذبحك", "سأجدك"},
		},
	}
}
