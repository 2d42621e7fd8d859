// Package request decodes and validates API input into download requests.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"downloadflow/internal/entity"
	"downloadflow/internal/errs"
)

// Download is the body of a download request and one item of a batch.
type Download struct {
	URL         string     `json:"url"`
	Quality     *Height    `json:"quality,omitempty"`
	AudioOnly   bool       `json:"audioOnly"`
	StartTime   *Timestamp `json:"startTime,omitempty"`
	EndTime     *Timestamp `json:"endTime,omitempty"`
	PreciseTrim bool       `json:"preciseTrim,omitempty"`
}

// Batch is the body of a batch request.
type Batch struct {
	Videos []Download `json:"videos"`
}

// ToEntity converts d into a validated download request.
func (d Download) ToEntity() (entity.DownloadRequest, error) {
	req := entity.DownloadRequest{
		URL:         strings.TrimSpace(d.URL),
		AudioOnly:   d.AudioOnly,
		PreciseTrim: d.PreciseTrim,
	}

	if d.Quality != nil {
		quality := int(*d.Quality)
		req.Quality = &quality
	}

	trim, err := trimWindow((*float64)(d.StartTime), (*float64)(d.EndTime))
	if err != nil {
		return entity.DownloadRequest{}, err
	}

	req.Trim = trim

	if err := req.Validate(); err != nil {
		return entity.DownloadRequest{}, err
	}

	return req, nil
}

// ToEntities converts every video of the batch. Errors name the offending position.
func (b Batch) ToEntities() ([]entity.DownloadRequest, error) {
	if len(b.Videos) == 0 {
		return nil, errs.ErrEmptyBatch
	}

	reqs := make([]entity.DownloadRequest, 0, len(b.Videos))

	for i, video := range b.Videos {
		req, err := video.ToEntity()
		if err != nil {
			return nil, fmt.Errorf("video %d: %w", i+1, err)
		}

		reqs = append(reqs, req)
	}

	return reqs, nil
}

// FromQuery reads a download request from query parameters:
// url, quality, audioOnly, startTime, endTime, preciseTrim and outputDir.
func FromQuery(query url.Values) (entity.DownloadRequest, error) {
	in := Download{
		URL:         query.Get("url"),
		AudioOnly:   query.Get("audioOnly") == "true",
		PreciseTrim: query.Get("preciseTrim") == "true",
	}

	if raw := query.Get("quality"); raw != "" {
		height, err := parseHeight(raw)
		if err != nil {
			return entity.DownloadRequest{}, err
		}

		in.Quality = &height
	}

	var err error

	if in.StartTime, err = queryTimestamp(query, "startTime"); err != nil {
		return entity.DownloadRequest{}, err
	}

	if in.EndTime, err = queryTimestamp(query, "endTime"); err != nil {
		return entity.DownloadRequest{}, err
	}

	req, err := in.ToEntity()
	if err != nil {
		return entity.DownloadRequest{}, err
	}

	req.OutputDir = strings.TrimSpace(query.Get("outputDir"))

	return req, nil
}

// ToQuery renders req back into the query FromQuery reads. OutputDir is not included.
func ToQuery(req entity.DownloadRequest) url.Values {
	query := url.Values{}
	query.Set("url", req.URL)
	query.Set("audioOnly", strconv.FormatBool(req.AudioOnly))

	if req.Quality != nil {
		query.Set("quality", strconv.Itoa(*req.Quality))
	}

	if req.Trim != nil {
		query.Set("startTime", strconv.FormatFloat(req.Trim.Start, 'f', -1, 64))
		query.Set("endTime", strconv.FormatFloat(req.Trim.End, 'f', -1, 64))
	}

	if req.PreciseTrim {
		query.Set("preciseTrim", "true")
	}

	return query
}

// trimWindow builds the trim of a request. Both bounds or none are required;
// equal bounds mean no trim.
func trimWindow(start, end *float64) (*entity.TrimWindow, error) {
	switch {
	case start == nil && end == nil:
		return nil, nil //nolint:nilnil // no trim requested
	case start == nil || end == nil:
		return nil, errs.ErrInvalidTrim
	case *start == *end:
		return nil, nil //nolint:nilnil // empty window is ignored
	default:
		return &entity.TrimWindow{Start: *start, End: *end}, nil
	}
}

func queryTimestamp(query url.Values, key string) (*Timestamp, error) {
	raw := query.Get(key)
	if raw == "" {
		return nil, nil //nolint:nilnil // parameter absent
	}

	seconds, err := ParseTimestamp(raw)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(seconds)

	return &ts, nil
}

// Height is a video height given as a JSON number or numeric string.
type Height int

// UnmarshalJSON accepts 720 and "720".
func (h *Height) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		return nil
	}

	height, err := parseHeight(raw)
	if err != nil {
		return err
	}

	*h = height

	return nil
}

func parseHeight(raw string) (Height, error) {
	height, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "p"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidQuality, raw)
	}

	return Height(height), nil
}

// Timestamp is a position in seconds given as a JSON number or a string
// in seconds, "mm:ss" or "hh:mm:ss".
type Timestamp float64

// UnmarshalJSON accepts 75, 75.5, "75", "1:15" and "0:01:15".
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		return nil
	}

	seconds, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}

	*ts = Timestamp(seconds)

	return nil
}

// ParseTimestamp converts seconds, "mm:ss" or "hh:mm:ss" into seconds.
func ParseTimestamp(raw string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidTrim, raw)
	}

	var seconds float64

	for _, part := range parts {
		value, err := strconv.ParseFloat(part, 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("%w: %q", errs.ErrInvalidTrim, raw)
		}

		seconds = seconds*60 + value
	}

	return seconds, nil
}

// Decode reads one JSON document from r into v, rejecting trailing data.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err)
	}

	if dec.More() {
		return fmt.Errorf("%w: trailing data", errs.ErrInvalidRequestBody)
	}

	return nil
}
