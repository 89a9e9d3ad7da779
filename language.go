package steam

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Steam names a few languages differently from their English display name.
var steamLanguageNames = map[string]string{
	"zh-Hans": "schinese",
	"zh-Hant": "tchinese",
	"zh":      "schinese",
	"szh":     "schinese",
	"tzh":     "tchinese",
	"pt-BR":   "brazilian",
	"es-419":  "latam",
	"ko":      "koreana",
}

// ResolveLanguage turns a BCP 47 tag ("en", "ru", "zh-Hant") or a Steam
// language name ("english") into the name Steam expects in the l= parameter.
// An empty string resolves to "".
func ResolveLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if name, ok := steamLanguageNames[code]; ok {
		return name
	}

	tag, err := language.Parse(code)
	if err != nil {
		// already a Steam name such as "english"
		return strings.ToLower(code)
	}
	if name, ok := steamLanguageNames[tag.String()]; ok {
		return name
	}

	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return strings.ToLower(code)
	}
	if name, ok := steamLanguageNames[base.String()]; ok {
		return name
	}

	name := display.English.Tags().Name(language.Make(base.String()))
	if name == "" {
		return strings.ToLower(code)
	}
	return strings.ToLower(strings.Fields(name)[0])
}
