package main

import (
	"hash/fnv"
	"net/http"
	"net/url"

	"github.com/buger/gorshift/accesslog"
)

type HTTPModifierConfig struct {
	urlRegexp         HTTPUrlRegexp
	urlNegativeRegexp HTTPUrlRegexp
	urlRewrite        UrlRewriteMap
	headerFilters     HTTPHeaderFilters
	headerHashFilters HTTPHashFilters

	headers HTTPHeaders
	methods HTTPMethods
	target  HTTPTarget
}

// HTTPModifier filters and rewrites records before they are scheduled.
type HTTPModifier struct {
	config *HTTPModifierConfig
}

func NewHTTPModifier(config *HTTPModifierConfig) *HTTPModifier {
	// Optimization to skip modifier completely if we do not need it
	if len(config.urlRegexp) == 0 &&
		len(config.urlNegativeRegexp) == 0 &&
		len(config.urlRewrite) == 0 &&
		len(config.headerFilters) == 0 &&
		len(config.headerHashFilters) == 0 &&
		len(config.headers) == 0 &&
		len(config.methods) == 0 &&
		config.target.url == nil {
		return nil
	}

	return &HTTPModifier{config: config}
}

func recordHeader(rec accesslog.Record, name string) (string, bool) {
	name = http.CanonicalHeaderKey(name)
	for k, v := range rec.Header {
		if http.CanonicalHeaderKey(k) == name {
			return v, true
		}
	}
	return "", false
}

// Rewrite returns the modified record, or false if filters drop it.
// The given record is never changed.
func (m *HTTPModifier) Rewrite(rec accesslog.Record) (accesslog.Record, bool) {
	if len(m.config.methods) > 0 && !m.config.methods.Contains(rec.Method) {
		return rec, false
	}

	path := rec.URL.RequestURI()

	if len(m.config.urlRegexp) > 0 {
		matched := false

		for _, f := range m.config.urlRegexp {
			if f.regexp.MatchString(path) {
				matched = true
			}
		}

		if !matched {
			return rec, false
		}
	}

	for _, f := range m.config.urlNegativeRegexp {
		if f.regexp.MatchString(path) {
			return rec, false
		}
	}

	for _, f := range m.config.headerFilters {
		value, ok := recordHeader(rec, f.name)

		if ok && !f.regexp.MatchString(value) {
			return rec, false
		}
	}

	for _, f := range m.config.headerHashFilters {
		value, ok := recordHeader(rec, f.name)

		if ok {
			hasher := fnv.New32a()
			hasher.Write([]byte(value))

			if (hasher.Sum32() % 100) >= f.percent {
				return rec, false
			}
		}
	}

	u := *rec.URL

	if len(m.config.urlRewrite) > 0 {
		if rewritten := m.config.urlRewrite.Rewrite(path); rewritten != path {
			if ru, err := url.ParseRequestURI(rewritten); err == nil {
				u.Path, u.RawPath, u.RawQuery = ru.Path, ru.RawPath, ru.RawQuery
			} else {
				Debug("Bad rewritten url ", rewritten, ": ", err)
			}
		}
	}

	if t := m.config.target.url; t != nil {
		u.Scheme, u.Host = t.Scheme, t.Host
	}

	rec.URL = &u

	if len(m.config.headers) > 0 {
		header := make(map[string]string, len(rec.Header)+len(m.config.headers))
		for k, v := range rec.Header {
			header[k] = v
		}
		for _, h := range m.config.headers {
			for k := range header {
				if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(h.Name) {
					delete(header, k)
				}
			}
			header[h.Name] = h.Value
		}
		rec.Header = header
	}

	return rec, true
}

// Apply rewrites every record and drops the filtered ones. Order is kept.
func (m *HTTPModifier) Apply(records []accesslog.Record) []accesslog.Record {
	if m == nil {
		return records
	}

	result := make([]accesslog.Record, 0, len(records))
	for _, rec := range records {
		if rewritten, ok := m.Rewrite(rec); ok {
			result = append(result, rewritten)
		}
	}

	if dropped := len(records) - len(result); dropped > 0 {
		Debug("Filtered out ", dropped, " of ", len(records), " records")
	}

	return result
}
