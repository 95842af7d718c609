package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultCACPattern captures the general-level value of the CAC publication.
const DefaultCACPattern = `(?i)nivel\s+general[^0-9]{0,40}([0-9][0-9.]*,[0-9]+)`

// CACScraperOptions parameterise the CAC index scraper.
type CACScraperOptions struct {
	HTTPOptions
	// Pattern must contain one capture group holding the index in es-AR notation (12.345,67).
	Pattern string
}

// CACScraper downloads the published index document and extracts the general level.
// The URL may contain {year}, {month} and {month2} placeholders.
type CACScraper struct {
	opts    CACScraperOptions
	pattern *regexp.Regexp
	client  *http.Client
	logger  zerolog.Logger
}

// NewCACScraper compiles the pattern and builds the scraper.
func NewCACScraper(opts CACScraperOptions, logger zerolog.Logger) (*CACScraper, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultCACPattern
	}
	pattern, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile cac pattern: %w", err)
	}
	if pattern.NumSubexp() < 1 {
		return nil, errors.New("cac pattern needs a capture group")
	}
	return &CACScraper{
		opts:    opts,
		pattern: pattern,
		client:  newHTTPClient(opts.Timeout),
		logger:  logger.With().Str("component", "cac_fetcher").Logger(),
	}, nil
}

// Name identifies the provider on stored rows.
func (s *CACScraper) Name() string { return "camarco" }

// FetchCAC retrieves the index for the given month.
func (s *CACScraper) FetchCAC(ctx context.Context, year, month int) (CACQuote, error) {
	if s.opts.URL == "" {
		return CACQuote{}, errors.New("cac provider url not configured")
	}

	url := expandPeriod(s.opts.URL, year, month)
	payload, err := getBody(ctx, s.client, url, s.opts.UserAgent, "text/html,text/plain,*/*")
	if err != nil {
		return CACQuote{}, err
	}

	match := s.pattern.FindSubmatch(payload)
	if match == nil {
		return CACQuote{}, fmt.Errorf("cac value not found in %s", url)
	}

	value, err := ParseARNumber(string(match[1]))
	if err != nil {
		return CACQuote{}, err
	}
	if !value.IsPositive() {
		return CACQuote{}, fmt.Errorf("cac value must be positive, got %s", value)
	}

	s.logger.Debug().Int("year", year).Int("month", month).Str("value", value.String()).Msg("cac index scraped")
	return CACQuote{Value: value, SourceURL: url}, nil
}

func expandPeriod(url string, year, month int) string {
	r := strings.NewReplacer(
		"{year}", strconv.Itoa(year),
		"{month}", strconv.Itoa(month),
		"{month2}", fmt.Sprintf("%02d", month),
	)
	return r.Replace(url)
}

// ParseARNumber parses numbers written with "." thousands and "," decimal separators.
func ParseARNumber(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return value, nil
}

var _ CACFetcher = (*CACScraper)(nil)
