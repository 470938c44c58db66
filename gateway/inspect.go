package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/famgallery/mediagate/gateway/cache"
	"github.com/famgallery/mediagate/gateway/origin"
	"github.com/famgallery/mediagate/gateway/validation"
	"github.com/jszwec/csvutil"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"
)

const mediaPathPrefix = "/images/"

// Output formats of the inspect command.
const (
	formatText = "text"
	formatJSON = "json"
	formatCSV  = "csv"
	formatYAML = "yaml"
)

// inspection describes how the gateway would handle a media URL.
type inspection struct {
	URL      string `json:"url" yaml:"url" csv:"url"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty" csv:"key"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty" csv:"kind"`
	CacheKey string `json:"cache_key,omitempty" yaml:"cache_key,omitempty" csv:"cache_key"`
	Origin   string `json:"origin,omitempty" yaml:"origin,omitempty" csv:"origin"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty" csv:"error"`
}

// inspectURL runs the request path checks, cache key derivation and origin
// routing for rawURL without contacting anything.
func inspectURL(rawURL string, download bool) inspection {
	in := inspection{URL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil {
		in.Error = fmt.Sprintf("parsing url: %v", err)
		return in
	}
	if u.Scheme == "" || u.Host == "" {
		in.Error = "url must be absolute"
		return in
	}

	rawKey, ok := strings.CutPrefix(u.EscapedPath(), mediaPathPrefix)
	if !ok {
		in.Error = fmt.Sprintf("path must start with %s", mediaPathPrefix)
		return in
	}

	query := u.Query()
	if query.Get("download") == "true" {
		download = true
	}

	key, err := validation.ValidateKey(rawKey)
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Key = key

	cacheKey, err := cache.BuildKey(rawURL, download)
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.CacheKey = cacheKey

	choice, err := origin.NewRouter(nil, nil).Route(origin.Request{
		Key:      key,
		Query:    query,
		Download: download,
		CacheKey: cacheKey,
	})
	in.Kind = string(origin.InferMediaKind(key))
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Origin = choice.Origin

	return in
}

func writeInspections(w io.Writer, format string, rows []inspection) error {
	switch format {
	case formatCSV:
		b, err := csvutil.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to marshal inspections: %w", err)
		}
		_, err = w.Write(b)
		return err
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case formatYAML:
		b, err := yaml.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to marshal inspections: %w", err)
		}
		_, err = w.Write(b)
		return err
	case formatText:
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"URL", "Key", "Kind", "Cache Key", "Origin", "Error"})
		table.SetColWidth(80)
		table.SetAutoWrapText(false)

		for _, r := range rows {
			table.Append([]string{r.URL, r.Key, r.Kind, r.CacheKey, r.Origin, r.Error})
		}

		table.Render()
		return nil
	default:
		return errors.New("output option must be one of text, json, csv, yaml")
	}
}
