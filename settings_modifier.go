package main

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Handling of --http-allow-url and --http-disallow-url options
type urlRegexp struct {
	regexp *regexp.Regexp
}

type HTTPUrlRegexp []urlRegexp

func (r *HTTPUrlRegexp) String() string {
	return fmt.Sprint(*r)
}

func (r *HTTPUrlRegexp) Set(value string) error {
	re, err := regexp.Compile(value)
	if err != nil {
		return err
	}
	*r = append(*r, urlRegexp{regexp: re})
	return nil
}

// Handling of --http-rewrite-url option
type urlRewrite struct {
	src    *regexp.Regexp
	target string
}

type UrlRewriteMap []urlRewrite

func (r *UrlRewriteMap) String() string {
	return fmt.Sprint(*r)
}

func (r *UrlRewriteMap) Set(value string) error {
	valArr := strings.SplitN(value, ":", 2)
	if len(valArr) < 2 {
		return errors.New("need both src and target, colon-delimited (ex. /a:/b).")
	}
	re, err := regexp.Compile(valArr[0])
	if err != nil {
		return err
	}
	*r = append(*r, urlRewrite{src: re, target: valArr[1]})
	return nil
}

// Rewrite applies the first matching rule to a request URI
func (r *UrlRewriteMap) Rewrite(path string) string {
	for _, f := range *r {
		if f.src.MatchString(path) {
			return f.src.ReplaceAllString(path, f.target)
		}
	}
	return path
}

// Handling of --http-allow-header options
type headerFilter struct {
	name   string
	regexp *regexp.Regexp
}

type HTTPHeaderFilters []headerFilter

func (h *HTTPHeaderFilters) String() string {
	return fmt.Sprint(*h)
}

func (h *HTTPHeaderFilters) Set(value string) error {
	valArr := strings.SplitN(value, ":", 2)
	if len(valArr) < 2 {
		return errors.New("need both header and value, colon-delimited (ex. user_id:^169$).")
	}
	r, err := regexp.Compile(strings.TrimSpace(valArr[1]))
	if err != nil {
		return err
	}

	*h = append(*h, headerFilter{name: valArr[0], regexp: r})

	return nil
}

// Handling of --http-allow-header-hash option
type hashFilter struct {
	name    string
	percent uint32
}

type HTTPHashFilters []hashFilter

func (h *HTTPHashFilters) String() string {
	return fmt.Sprint(*h)
}

func (h *HTTPHashFilters) Set(value string) error {
	valArr := strings.SplitN(value, ":", 2)
	if len(valArr) < 2 {
		return errors.New("need both header and value, colon-delimited (ex. user_id:50%).")
	}

	f := hashFilter{name: valArr[0]}

	switch {
	case strings.HasSuffix(valArr[1], "%"):
		p, err := strconv.ParseUint(valArr[1][:len(valArr[1])-1], 10, 32)
		if err != nil || p > 100 {
			return fmt.Errorf("bad percent %q", valArr[1])
		}
		f.percent = uint32(p)
	case strings.Contains(valArr[1], "/"):
		fracArr := strings.SplitN(valArr[1], "/", 2)
		num, err1 := strconv.ParseUint(fracArr[0], 10, 64)
		den, err2 := strconv.ParseUint(fracArr[1], 10, 64)
		if err1 != nil || err2 != nil || den == 0 || num > den {
			return fmt.Errorf("bad fraction %q", valArr[1])
		}
		f.percent = uint32((float64(num) / float64(den)) * 100)
	default:
		return errors.New("Value should be percent and contain '%'")
	}

	*h = append(*h, f)

	return nil
}

// Handling of --http-set-header option
type HTTPHeaders []HTTPHeader
type HTTPHeader struct {
	Name  string
	Value string
}

func (h *HTTPHeaders) String() string {
	return fmt.Sprint(*h)
}

func (h *HTTPHeaders) Set(value string) error {
	v := strings.SplitN(value, ":", 2)
	if len(v) != 2 {
		return errors.New("Expected `Key: Value`")
	}

	header := HTTPHeader{
		strings.TrimSpace(v[0]),
		strings.TrimSpace(v[1]),
	}

	*h = append(*h, header)
	return nil
}

// Handling of --http-allow-method option
type HTTPMethods []string

func (h *HTTPMethods) String() string {
	return fmt.Sprint(*h)
}

func (h *HTTPMethods) Set(value string) error {
	*h = append(*h, strings.ToUpper(value))
	return nil
}

func (h *HTTPMethods) Contains(value string) bool {
	for _, method := range *h {
		if method == value {
			return true
		}
	}
	return false
}

// Handling of --output-host option
type HTTPTarget struct {
	url *url.URL
}

func (t *HTTPTarget) String() string {
	if t.url == nil {
		return ""
	}
	return t.url.String()
}

func (t *HTTPTarget) Set(value string) error {
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("expected scheme://host[:port], got %q", value)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	t.url = &url.URL{Scheme: u.Scheme, Host: u.Host}
	return nil
}
