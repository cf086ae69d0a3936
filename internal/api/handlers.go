package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"popextract/internal/engine"
	"popextract/internal/models"
)

// DefaultBuckets are the age ranges the population chart groups by.
var DefaultBuckets = [][2]int{{0, 17}, {18, 24}, {25, 49}, {50, 64}, {65, 100}}

// Dataset is what a finished extraction exposes.
type Dataset struct {
	Index     []models.CountryEntry
	Countries map[string]engine.Accumulator
}

type Handler struct {
	mu   sync.RWMutex
	data *Dataset
}

// NewHandler accepts nil data; routes answer 503 until SetData is called.
func NewHandler(data *Dataset) *Handler {
	return &Handler{data: data}
}

func (h *Handler) SetData(data *Dataset) {
	h.mu.Lock()
	h.data = data
	h.mu.Unlock()
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/countries", h.GetCountries)
	api.GET("/countries/:code", h.GetCountry)
	api.GET("/countries/:code/:year", h.GetYear)
	api.GET("/countries/:code/:year/buckets", h.GetBuckets)
}

// --- HANDLERS ---
func (h *Handler) dataset() (*Dataset, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.data == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "data is still loading")
	}
	return h.data, nil
}

func (h *Handler) country(c echo.Context) (engine.Accumulator, error) {
	d, err := h.dataset()
	if err != nil {
		return nil, err
	}
	acc, ok := d.Countries[c.Param("code")]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown country "+c.Param("code"))
	}
	return acc, nil
}

func (h *Handler) GetCountries(c echo.Context) error {
	d, err := h.dataset()
	if err != nil {
		return err
	}
	if d.Index == nil {
		return c.JSON(http.StatusOK, []models.CountryEntry{})
	}
	return c.JSON(http.StatusOK, d.Index)
}

func (h *Handler) GetCountry(c echo.Context) error {
	acc, err := h.country(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acc)
}

func (h *Handler) GetYear(c echo.Context) error {
	acc, err := h.country(c)
	if err != nil {
		return err
	}
	bucket, ok := acc[c.Param("year")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no data for year "+c.Param("year"))
	}
	return c.JSON(http.StatusOK, bucket)
}

// GetBuckets sums single ages into ranges, e.g. ?ranges=0-17,18-24.
func (h *Handler) GetBuckets(c echo.Context) error {
	acc, err := h.country(c)
	if err != nil {
		return err
	}
	bucket, ok := acc[c.Param("year")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no data for year "+c.Param("year"))
	}
	ranges := DefaultBuckets
	if q := c.QueryParam("ranges"); q != "" {
		if ranges, err = ParseRanges(q); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, SumBuckets(bucket, ranges))
}

var errBadRange = errors.New("ranges must look like 0-17,18-24")

// ParseRanges reads "a-b,c-d" into inclusive ranges.
func ParseRanges(s string) ([][2]int, error) {
	var out [][2]int
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, errBadRange
		}
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || from > to {
			return nil, errBadRange
		}
		out = append(out, [2]int{from, to})
	}
	return out, nil
}

// SumBuckets adds every age key whose leading number falls in a range.
// Keys without a leading number are skipped.
func SumBuckets(bucket engine.YearBucket, ranges [][2]int) []models.BucketSum {
	out := make([]models.BucketSum, len(ranges))
	for i, r := range ranges {
		out[i] = models.BucketSum{From: r[0], To: r[1]}
	}
	for key, p := range bucket {
		age, ok := leadingAge(key)
		if !ok {
			continue
		}
		for i, r := range ranges {
			if age >= r[0] && age <= r[1] {
				out[i].Male += p.Male()
				out[i].Female += p.Female()
			}
		}
	}
	return out
}

// leadingAge reads "80+" or "5-9" as 80 and 5.
func leadingAge(key string) (int, bool) {
	end := 0
	for end < len(key) && key[end] >= '0' && key[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(key[:end])
	return n, err == nil
}
