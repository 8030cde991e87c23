// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package html

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Create parses a page template. {{HEAD}} in the page is replaced with the common style.
func Create(page string) *template.Template {
	page = strings.Replace(page, "{{HEAD}}", head, 1)
	return template.Must(template.New("").Funcs(Funcs).Parse(page))
}

const head = `<style type="text/css" media="screen">
body { font-family: monospace; font-size: 12px; margin: 1em; }
table { border-collapse: collapse; margin-bottom: 1em; }
td, th { border: 1px solid #ccc; padding: 2px 6px; text-align: left; vertical-align: top; }
th { background: #eee; }
.positive { color: #080; }
.navigation a { margin-right: 1em; }
pre { white-space: pre-wrap; }
</style>`

var Funcs = template.FuncMap{
	"link":           link,
	"optlink":        optlink,
	"formatTime":     FormatTime,
	"formatClock":    formatClock,
	"formatDuration": formatDuration,
	"formatLateness": formatLateness,
	"formatStat":     formatStat,
	"formatShort":    formatShortHash,
	"formatList":     formatStringList,
	"add":            add,
}

func link(url, text string) template.HTML {
	text = template.HTMLEscapeString(text)
	if url != "" {
		text = fmt.Sprintf(`<a href="%v">%v</a>`, url, text)
	}
	return template.HTML(text)
}

func optlink(url, text string) template.HTML {
	if url == "" {
		return template.HTML("")
	}
	return link(url, text)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006/01/02 15:04")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	days := int(d / (24 * time.Hour))
	hours := int(d / time.Hour % 24)
	mins := int(d / time.Minute % 60)
	if days >= 10 {
		return fmt.Sprintf("%vd", days)
	} else if days != 0 {
		return fmt.Sprintf("%vd%02vh", days, hours)
	} else if hours != 0 {
		return fmt.Sprintf("%vh%02vm", hours, mins)
	}
	return fmt.Sprintf("%vm", mins)
}

func formatLateness(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 5*time.Minute {
		return "now"
	}
	return formatDuration(d)
}

func formatStat(v int64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprint(v)
}

// formatShortHash shortens corpus ids and crash keys.
func formatShortHash(v string) string {
	const hashLen = 8
	if len(v) <= hashLen {
		return v
	}
	return v[:hashLen]
}

func formatStringList(list []string) string {
	return strings.Join(list, ", ")
}

func add(a, b int) int {
	return a + b
}
