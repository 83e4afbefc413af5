// Package apidocs turns a capture artifact into a Markdown reference of the
// observed API: static assets grouped by directory, then one section per
// normalised endpoint with a few example exchanges.
package apidocs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"

	"github.com/dgnsrekt/apicapture/internal/export"
	"github.com/dgnsrekt/apicapture/internal/types"
)

const maxExamples = 3

type assetPattern struct {
	group string
	re    *regexp.Regexp
}

// assetPatterns are tried in order; chunk bundles must win over plain scripts.
var assetPatterns = []assetPattern{
	{"JS Chunks", regexp.MustCompile(`(?i)chunk-.*\.js$`)},
	{"Icons (.svg)", regexp.MustCompile(`(?i)\.svg$`)},
	{"Images (.png, .jpg, .gif)", regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif)$`)},
	{"Fonts (.woff, .woff2)", regexp.MustCompile(`(?i)\.(woff|woff2)$`)},
	{"Stylesheets (.css)", regexp.MustCompile(`(?i)\.css$`)},
	{"Scripts (.js)", regexp.MustCompile(`(?i)\.js$`)},
}

var numericSegment = regexp.MustCompile(`/\d+`)

// Options controls the generated document.
type Options struct {
	// Title is the top-level heading. Defaults to "API Documentation".
	Title string
}

// Doc is the classified view of a capture.
type Doc struct {
	// Assets maps group -> directory -> file names.
	Assets map[string]map[string][]string
	// Endpoints maps a normalised path to its records in capture order.
	Endpoints map[string][]*types.Record
}

// Classify splits records into static assets and API endpoints. Records that
// never got a return code are ignored.
func Classify(records []*types.Record) *Doc {
	doc := &Doc{
		Assets:    make(map[string]map[string][]string),
		Endpoints: make(map[string][]*types.Record),
	}
	seen := make(map[string]bool)

	for _, rec := range records {
		if rec == nil || !rec.ReturnCode.IsSet() {
			continue
		}
		if status, ok := rec.ReturnCode.Status(); ok && status == 0 {
			continue
		}

		p := urlPath(rec.Endpoint)
		if group, ok := assetGroup(p); ok {
			dir, file := path.Split(p)
			if dir == "" {
				dir = "/"
			}
			key := group + "\x00" + dir + "\x00" + file
			if seen[key] {
				continue
			}
			seen[key] = true
			if doc.Assets[group] == nil {
				doc.Assets[group] = make(map[string][]string)
			}
			doc.Assets[group][dir] = append(doc.Assets[group][dir], file)
			continue
		}

		ep := NormalizeEndpoint(rec.Endpoint)
		doc.Endpoints[ep] = append(doc.Endpoints[ep], rec)
	}
	return doc
}

func assetGroup(p string) (string, bool) {
	for _, ap := range assetPatterns {
		if ap.re.MatchString(p) {
			return ap.group, true
		}
	}
	return "", false
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// NormalizeEndpoint drops the scheme, host and query and replaces numeric
// path segments with {id}.
func NormalizeEndpoint(raw string) string {
	return numericSegment.ReplaceAllString(urlPath(raw), "/{id}")
}

// Method infers the HTTP verb: POST when any example sent a non-empty body.
func Method(records []*types.Record) string {
	for _, rec := range records {
		if rec.Payload != nil && *rec.Payload != "" {
			return "POST"
		}
	}
	return "GET"
}

// Examples picks up to three records with distinct (return code, has payload)
// signatures, keeping capture order.
func Examples(records []*types.Record) []*types.Record {
	type signature struct {
		code       string
		hasPayload bool
	}
	seen := make(map[signature]bool)
	var out []*types.Record
	for _, rec := range records {
		sig := signature{rec.ReturnCode.String(), rec.Payload != nil}
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, rec)
		if len(out) >= maxExamples {
			break
		}
	}
	return out
}

// Generate writes the Markdown document for records to w.
func Generate(w io.Writer, records []*types.Record, opts Options) error {
	if opts.Title == "" {
		opts.Title = "API Documentation"
	}
	doc := Classify(records)
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# %s\n\n", opts.Title)
	fmt.Fprint(bw, "*Generated from captured requests.*\n\n")

	if len(doc.Assets) > 0 {
		fmt.Fprint(bw, "## Static Assets\n\n")
		fmt.Fprint(bw, "Requested static files grouped by type and directory.\n\n")
		for _, group := range sortedKeys(doc.Assets) {
			fmt.Fprintf(bw, "### %s\n\n", group)
			dirs := doc.Assets[group]
			for _, dir := range sortedKeys(dirs) {
				files := append([]string(nil), dirs[dir]...)
				sort.Strings(files)
				fmt.Fprintf(bw, "#### Path: `%s`\n\n", dir)
				fmt.Fprint(bw, "<details>\n")
				fmt.Fprintf(bw, "<summary>Show files (%d)</summary>\n\n", len(files))
				for _, f := range files {
					fmt.Fprintf(bw, "- `%s`\n", f)
				}
				fmt.Fprint(bw, "\n</details>\n\n")
			}
		}
		fmt.Fprint(bw, "---\n\n")
	}

	fmt.Fprint(bw, "## API Endpoints\n\n")
	if len(doc.Endpoints) == 0 {
		fmt.Fprint(bw, "No API requests found to document.\n")
	}
	for _, ep := range sortedKeys(doc.Endpoints) {
		recs := doc.Endpoints[ep]
		fmt.Fprintf(bw, "### ` %s %s `\n\n", Method(recs), ep)
		for i, rec := range Examples(recs) {
			fmt.Fprintf(bw, "#### Example %d\n\n", i+1)
			fmt.Fprintf(bw, "**Full request URL:**\n`%s`\n\n", unescapeURL(rec.Endpoint))
			fmt.Fprint(bw, "**Request body (payload):**\n")
			fmt.Fprint(bw, payloadBlock(rec.Payload)+"\n\n")
			fmt.Fprintf(bw, "**Server response (code: %s):**\n", rec.ReturnCode.String())
			fmt.Fprint(bw, responseBlock(rec.Response)+"\n\n")
		}
		fmt.Fprint(bw, "---\n\n")
	}
	return bw.Flush()
}

// GenerateFile reads a json or jsonl artifact and writes Markdown to out.
func GenerateFile(in, out string, opts Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}
	records, err := export.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parse capture %s: %w", in, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create docs: %w", err)
	}
	if err := Generate(f, records, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("write docs: %w", err)
	}
	return f.Close()
}

func unescapeURL(raw string) string {
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func payloadBlock(p *string) string {
	if p == nil {
		return "None."
	}
	return textBlock(*p, "Show payload")
}

func responseBlock(b *types.Body) string {
	if b == nil {
		return "None."
	}
	if b.Kind == types.BodyJSON {
		return jsonBlock(b.Raw, "Show response")
	}
	return textBlock(b.Text, "Show response")
}

// textBlock renders s as JSON when it parses as JSON, else verbatim.
func textBlock(s, summary string) string {
	if json.Valid([]byte(s)) {
		return jsonBlock([]byte(s), summary)
	}
	return details(summary, "```\n"+s+"\n```")
}

func jsonBlock(raw []byte, summary string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return details(summary, "```\n"+string(raw)+"\n```")
	}
	return details(summary, "```json\n"+buf.String()+"\n```")
}

func details(summary, body string) string {
	return "<details>\n<summary>" + summary + "</summary>\n\n" + body + "\n</details>"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
