package handlers

import (
	"errors"
	"net/http"
	"time"

	"bess-dispatch/internal/analysis"
	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/log"
	"bess-dispatch/internal/market"

	"github.com/gin-gonic/gin"
)

// MarketHandler exposes the loaded price set
type MarketHandler struct {
	cache *data.AlignedCache
}

func NewMarketHandler(cache *data.AlignedCache) *MarketHandler {
	return &MarketHandler{cache: cache}
}

// ListCountries handles GET /api/v1/countries
func (h *MarketHandler) ListCountries(c *gin.Context) {
	set := h.cache.Set()
	countries := []models.CountryInfo{}
	for _, code := range set.Countries() {
		info := models.CountryInfo{Code: code, Instruments: []string{}}
		for _, in := range market.Instruments() {
			s, ok := set.Get(code, in)
			if !ok || len(s.Points) == 0 {
				continue
			}
			info.Instruments = append(info.Instruments, string(in))
			if in == market.DayAhead {
				info.Start = s.Points[0].Time
				info.End = s.Points[len(s.Points)-1].Time
			}
		}
		countries = append(countries, info)
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries})
}

// Rank handles GET /api/v1/rank. Countries whose window cannot be aligned are skipped.
func (h *MarketHandler) Rank(c *gin.Context) {
	var req models.RankRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	var start time.Time
	if req.Start != "" {
		t, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "INVALID_DATE", errors.New("start must be in YYYY-MM-DD format"))
			return
		}
		start = t
	}
	if req.Days < 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", errors.New("days must be >= 0"))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	ctx := c.Request.Context()
	byCountry := map[string]*market.Aligned{}
	for _, code := range h.cache.Set().Countries() {
		a, err := h.cache.Get(code, start, req.Days)
		if err != nil {
			log.Ctx(ctx).Warn("rank: skipping country", "country", code, "error", err)
			continue
		}
		byCountry[code] = a
	}

	profiles := analysis.RankByArbitrageBound(byCountry)
	if len(profiles) > limit {
		profiles = profiles[:limit]
	}
	resp := models.RankResponse{Rankings: make([]models.Ranking, len(profiles))}
	for i, p := range profiles {
		resp.Rankings[i] = models.Ranking{
			Rank:           i + 1,
			Country:        p.Country,
			Count:          p.Count,
			MinDA:          p.MinDA,
			MaxDA:          p.MaxDA,
			MeanDA:         p.MeanDA,
			Spread:         p.Spread,
			MedianFCR:      p.MedianFCR,
			MedianAFRRPos:  p.MedianAFRRPos,
			MedianAFRRNeg:  p.MedianAFRRNeg,
			ArbitrageBound: p.ArbitrageBound,
		}
	}
	c.JSON(http.StatusOK, resp)
}
