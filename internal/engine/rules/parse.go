package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"aiquery/internal/core"
	"aiquery/internal/tools"
)

// monthNames lists the accepted spellings per month, full name first.
var monthNames = [12][]string{
	{"january", "jan"},
	{"february", "feb"},
	{"march", "mar"},
	{"april", "apr"},
	{"may"},
	{"june", "jun"},
	{"july", "jul"},
	{"august", "aug"},
	{"september", "sept", "sep"},
	{"october", "oct"},
	{"november", "nov"},
	{"december", "dec"},
}

var months = func() map[string]time.Month {
	m := make(map[string]time.Month)
	for i, names := range monthNames {
		for _, n := range names {
			m[n] = time.Month(i + 1)
		}
	}
	return m
}()

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var (
	fromToPattern    = regexp.MustCompile(`\bfrom\s+(` + monthAlt + `)(?:\s+(\d{4}))?\s+(?:to|until|through)\s+(` + monthAlt + `)\s+(\d{4})\b`)
	monthDayPattern  = regexp.MustCompile(`\b(` + monthAlt + `)\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	monthYearPattern = regexp.MustCompile(`\b(` + monthAlt + `)\s+(\d{4})\b`)
	inMonthPattern   = regexp.MustCompile(`\b(?:in|during|for)\s+(` + monthAlt + `)\b`)
	yearPattern      = regexp.MustCompile(`\b(?:in|during|for)\s+(\d{4})\b`)
	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	wordPattern      = regexp.MustCompile(`[a-z]+`)
)

const numberExpr = `(?:ngn\s*)?(\d[\d,]*(?:\.\d+)?)`

// query is a parsed user prompt.
type query struct {
	text      string
	count     bool
	kind      core.Kind
	start     string
	end       string
	minAmount *float64
	maxAmount *float64
	inScope   bool
	balance   bool
	// invalid is set when the prompt names an impossible date or a range
	// that starts after today.
	invalid bool
}

func (q query) hasWindow() bool { return q.start != "" || q.end != "" }

func (q query) hasAmounts() bool { return q.minAmount != nil || q.maxAmount != nil }

// call maps the query onto one primitive.
func (q query) call() (string, map[string]any) {
	args := map[string]any{}
	if q.kind != "" {
		args[tools.ParamKind] = string(q.kind)
	}
	if q.minAmount != nil {
		args[tools.ParamMinAmount] = *q.minAmount
	}
	if q.maxAmount != nil {
		args[tools.ParamMaxAmount] = *q.maxAmount
	}

	switch {
	case q.hasWindow() || (q.hasAmounts() && q.kind != ""):
		if q.start != "" {
			args[tools.ParamStartDate] = q.start
		}
		if q.end != "" {
			args[tools.ParamEndDate] = q.end
		}
		return pick(q.count, tools.DateCount, tools.DateSum), args
	case q.hasAmounts():
		return pick(q.count, tools.AmountCount, tools.AmountSum), args
	default:
		return pick(q.count, tools.TypeCount, tools.TypeSum), args
	}
}

func pick(count bool, countTool, sumTool string) string {
	if count {
		return countTool
	}
	return sumTool
}

// parser turns prompts into queries using the routing vocabulary.
type parser struct {
	routing  *tools.Routing
	count    *regexp.Regexp
	kinds    map[string]core.Kind
	scope    map[string]bool
	min      *regexp.Regexp
	max      *regexp.Regexp
	between  *regexp.Regexp
	relative []relativePhrase
}

type relativePhrase struct {
	phrase *regexp.Regexp
	key    string
}

func newParser(r *tools.Routing) (*parser, error) {
	p := &parser{
		routing: r,
		kinds:   make(map[string]core.Kind),
		scope:   make(map[string]bool),
	}

	var err error
	if p.count, err = phrasePattern(r.Intents.Count, ""); err != nil {
		return nil, err
	}
	if len(r.Amount.Min) > 0 {
		if p.min, err = phrasePattern(r.Amount.Min, `\s+`+numberExpr); err != nil {
			return nil, err
		}
	}
	if len(r.Amount.Max) > 0 {
		if p.max, err = phrasePattern(r.Amount.Max, `\s+`+numberExpr); err != nil {
			return nil, err
		}
	}
	if len(r.Amount.Between) > 0 {
		if p.between, err = phrasePattern(r.Amount.Between, `\s+`+numberExpr+`\s*(?:ngn\s*)?(?:and|to|-)\s*`+numberExpr); err != nil {
			return nil, err
		}
	}

	for kind, words := range r.Kinds {
		for _, w := range words {
			p.kinds[strings.ToLower(w)] = core.Kind(kind)
		}
	}
	for _, w := range r.Scope {
		p.scope[strings.ToLower(w)] = true
	}
	for key, phrases := range r.RelativeDates {
		for _, ph := range phrases {
			re, err := phrasePattern([]string{ph}, "")
			if err != nil {
				return nil, err
			}
			p.relative = append(p.relative, relativePhrase{phrase: re, key: key})
		}
	}
	return p, nil
}

func phrasePattern(phrases []string, suffix string) (*regexp.Regexp, error) {
	quoted := make([]string, len(phrases))
	for i, ph := range phrases {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(ph)), ` `, `\s+`)
	}
	re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b` + suffix)
	if err != nil {
		return nil, fmt.Errorf("compile phrases %v: %w", phrases, err)
	}
	return re, nil
}

func (p *parser) parse(prompt string, today time.Time) query {
	text := strings.ToLower(strings.TrimSpace(prompt))
	q := query{text: text}

	q.count = p.count.MatchString(text)

	var credit, debit bool
	for _, w := range wordPattern.FindAllString(text, -1) {
		if p.scope[w] {
			q.inScope = true
		}
		switch p.kinds[w] {
		case core.KindCredit:
			credit = true
			q.inScope = true
		case core.KindDebit:
			debit = true
			q.inScope = true
		}
		if w == "balance" {
			q.balance = true
		}
	}
	if credit != debit {
		if credit {
			q.kind = core.KindCredit
		} else {
			q.kind = core.KindDebit
		}
	}

	p.parseAmounts(&q)
	p.parseWindow(&q, today)
	return q
}

func (p *parser) parseAmounts(q *query) {
	if p.between != nil {
		if m := p.between.FindStringSubmatch(q.text); m != nil {
			lo, errLo := core.ParseAmountString(m[1])
			hi, errHi := core.ParseAmountString(m[2])
			if errLo == nil && errHi == nil {
				if lo > hi {
					lo, hi = hi, lo
				}
				q.minAmount, q.maxAmount = &lo, &hi
				return
			}
		}
	}
	if p.min != nil {
		if m := p.min.FindStringSubmatch(q.text); m != nil {
			if v, err := core.ParseAmountString(m[1]); err == nil {
				q.minAmount = &v
			}
		}
	}
	if p.max != nil {
		if m := p.max.FindStringSubmatch(q.text); m != nil {
			if v, err := core.ParseAmountString(m[1]); err == nil {
				q.maxAmount = &v
			}
		}
	}
}

func (p *parser) parseWindow(q *query, today time.Time) {
	today = truncateDay(today)
	var start, end time.Time

	if m := fromToPattern.FindStringSubmatch(q.text); m != nil {
		endYear, _ := strconv.Atoi(m[4])
		startYear := endYear
		if m[2] != "" {
			startYear, _ = strconv.Atoi(m[2])
		}
		start = monthStart(startYear, months[m[1]])
		end = monthEnd(endYear, months[m[3]])
	} else if dates := isoDatePattern.FindAllString(q.text, 2); len(dates) > 0 {
		var err error
		if start, err = time.Parse(core.DateLayout, dates[0]); err != nil {
			q.invalid = true
			return
		}
		end = start
		if len(dates) == 2 {
			if end, err = time.Parse(core.DateLayout, dates[1]); err != nil {
				q.invalid = true
				return
			}
		}
	} else if m := monthDayPattern.FindStringSubmatch(q.text); m != nil {
		year := today.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		day, _ := strconv.Atoi(m[2])
		d, ok := calendarDate(year, months[m[1]], day)
		if !ok {
			q.invalid = true
			return
		}
		start, end = d, d
	} else if m := monthYearPattern.FindStringSubmatch(q.text); m != nil {
		year, _ := strconv.Atoi(m[2])
		start = monthStart(year, months[m[1]])
		end = monthEnd(year, months[m[1]])
	} else if m := yearPattern.FindStringSubmatch(q.text); m != nil {
		year, _ := strconv.Atoi(m[1])
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	} else if key, ok := p.relativeKey(q.text); ok {
		start, end = relativeWindow(key, today)
	} else if m := inMonthPattern.FindStringSubmatch(q.text); m != nil {
		start = monthStart(today.Year(), months[m[1]])
		end = monthEnd(today.Year(), months[m[1]])
	} else {
		return
	}

	if start.After(today) || end.Before(start) {
		q.invalid = true
		return
	}
	q.start = start.Format(core.DateLayout)
	q.end = end.Format(core.DateLayout)
}

func (p *parser) relativeKey(text string) (string, bool) {
	best, bestLen := "", 0
	for _, rp := range p.relative {
		if loc := rp.phrase.FindStringIndex(text); loc != nil && loc[1]-loc[0] > bestLen {
			best, bestLen = rp.key, loc[1]-loc[0]
		}
	}
	return best, best != ""
}

func relativeWindow(key string, today time.Time) (time.Time, time.Time) {
	switch key {
	case "yesterday":
		d := today.AddDate(0, 0, -1)
		return d, d
	case "this_month":
		return monthStart(today.Year(), today.Month()), monthEnd(today.Year(), today.Month())
	case "last_month":
		first := monthStart(today.Year(), today.Month()).AddDate(0, -1, 0)
		return first, monthEnd(first.Year(), first.Month())
	case "this_year":
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(today.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	case "last_year":
		y := today.Year() - 1
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
	default:
		return today, today
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(year int, m time.Month) time.Time {
	return time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
}

func monthEnd(year int, m time.Month) time.Time {
	return monthStart(year, m).AddDate(0, 1, -1)
}

// calendarDate rejects days that time.Date would normalise, e.g. February 30.
func calendarDate(year int, m time.Month, day int) (time.Time, bool) {
	d := time.Date(year, m, day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != m {
		return time.Time{}, false
	}
	return d, true
}
