// Package lang holds the fixed language tables used for recognition and translation.
package lang

import "medivoice/internal/domain"

const (
	// NativeCode is the clinic's working language.
	NativeCode = "ja"
	// NativeLocale is the recognition locale for the clinician.
	NativeLocale = "ja-JP"
	// DefaultLocale is used for unknown target languages.
	DefaultLocale = "en-US"
)

var names = map[string]string{
	"ja": "Japanese",
	"en": "English",
	"zh": "Chinese",
	"ko": "Korean",
	"vi": "Vietnamese",
	"ne": "Nepali",
	"tl": "Filipino (Tagalog)",
	"id": "Indonesian",
	"th": "Thai",
	"pt": "Portuguese",
	"es": "Spanish",
	"my": "Burmese",
}

var locales = map[string]string{
	"en": "en-US",
	"zh": "zh-CN",
	"ko": "ko-KR",
	"vi": "vi-VN",
	"ne": "ne-NP",
	"tl": "fil-PH",
	"id": "id-ID",
	"th": "th-TH",
	"pt": "pt-BR",
	"es": "es-ES",
	"my": "my-MM",
}

// Name returns the English display name for a language code. Unknown codes
// are returned unchanged so prompts stay meaningful.
func Name(code string) string {
	if name, ok := names[code]; ok {
		return name
	}
	return code
}

// Locale maps a target-language code onto a recognition locale tag.
func Locale(code string) string {
	if code == NativeCode {
		return NativeLocale
	}
	if tag, ok := locales[code]; ok {
		return tag
	}
	return DefaultLocale
}

// LocaleFor returns the recognition locale for the given speaker.
func LocaleFor(role domain.Role, target string) string {
	if role == domain.RoleClinician {
		return NativeLocale
	}
	return Locale(target)
}

// TranslationTarget returns the language an utterance by role is translated into.
func TranslationTarget(role domain.Role, target string) string {
	if role == domain.RoleClinician {
		return target
	}
	return NativeCode
}

// Supported reports whether code is in the target-language table.
func Supported(code string) bool {
	_, ok := names[code]
	return ok
}
