// Package mns implements the signed HTTP protocol used to receive and acknowledge messages on
// an MNS notification queue.
package mns

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// VersionHeader is merged into every request.
	VersionHeader = "x-mns-version"
	// Version is the protocol version this package speaks.
	Version = "2015-06-06"
	// Namespace is the XML namespace of request bodies.
	Namespace = "http://mns.aliyuncs.com/doc/v1/"

	xmlContentType = "text/xml;charset=utf-8"
	authScheme     = "MNS"
)

// RequestOptions addresses and authenticates a single request.
type RequestOptions struct {
	Method          string
	Endpoint        string // host, host:port, or a full http(s) URL
	Path            string
	AccessKeyID     string
	AccessKeySecret string
}

// Field is one child element of an XML request body. A slice keeps element order stable.
type Field struct {
	Name  string
	Value string
}

// Request is a fully addressed MNS request. It is built fresh per call and performs no I/O.
type Request struct {
	Method        string
	URL           *url.URL
	Headers       map[string]string // MNS-specific headers, x-mns-version included
	Body          []byte
	ContentMD5    string
	ContentType   string
	ContentLength int

	accessKeyID     string
	accessKeySecret string
}

// NewRequest addresses a request. Query params, when present, are form-encoded onto the path.
func NewRequest(opts RequestOptions, headers map[string]string, params url.Values) (*Request, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("mns endpoint is required")
	}
	u, err := endpointURL(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = opts.Path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	merged := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		merged[k] = v
	}
	merged[VersionHeader] = Version

	return &Request{
		Method:          strings.ToUpper(opts.Method),
		URL:             u,
		Headers:         merged,
		accessKeyID:     opts.AccessKeyID,
		accessKeySecret: opts.AccessKeySecret,
	}, nil
}

func endpointURL(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		return &url.URL{Scheme: "http", Host: endpoint}, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid mns endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid mns endpoint %q: missing host", endpoint)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// SetContent attaches an XML body whose root element is root and whose children are fields.
func (r *Request) SetContent(root string, fields []Field) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	start := xml.StartElement{
		Name: xml.Name{Local: root},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: Namespace}},
	}
	if err := enc.EncodeToken(start); err != nil {
		return fmt.Errorf("failed to encode %s: %w", root, err)
	}
	for _, f := range fields {
		if err := enc.EncodeElement(f.Value, xml.StartElement{Name: xml.Name{Local: f.Name}}); err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", root, f.Name, err)
		}
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return fmt.Errorf("failed to encode %s: %w", root, err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	r.Body = buf.Bytes()
	// The service digests the hex form of the MD5, not the raw bytes.
	sum := md5.Sum(r.Body)
	r.ContentMD5 = base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
	r.ContentLength = len(r.Body)
	r.ContentType = xmlContentType
	return nil
}

// CanonicalResource is the path plus the raw query, when there is one.
func (r *Request) CanonicalResource() string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// CanonicalHeaders renders the MNS headers as sorted, lower-cased "name:value" lines.
func (r *Request) CanonicalHeaders() string {
	lines := make([]string, 0, len(r.Headers))
	for k, v := range r.Headers {
		lines = append(lines, strings.ToLower(k)+":"+v)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// StringToSign is the canonical signing string for the given HTTP date.
func (r *Request) StringToSign(date string) string {
	return strings.Join([]string{
		r.Method,
		r.ContentMD5,
		r.ContentType,
		date,
		r.CanonicalHeaders(),
		r.CanonicalResource(),
	}, "\n")
}

// Authorization returns the value of the Authorization header for the given HTTP date.
func (r *Request) Authorization(date string) string {
	mac := hmac.New(sha1.New, []byte(r.accessKeySecret))
	mac.Write([]byte(r.StringToSign(date)))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s %s:%s", authScheme, r.accessKeyID, signature)
}

// Build produces the signed *http.Request. now supplies the Date header.
func (r *Request) Build(ctx context.Context, now time.Time) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build mns request: %w", err)
	}

	date := now.UTC().Format(http.TimeFormat)
	req.Header.Set("Authorization", r.Authorization(date))
	req.Header.Set("Content-Length", strconv.Itoa(r.ContentLength))
	req.Header.Set("Date", date)
	req.Header.Set("Host", r.URL.Host)
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if r.ContentMD5 != "" {
		req.Header.Set("Content-MD5", r.ContentMD5)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(r.ContentLength)
	return req, nil
}
