package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	loader := s.lm.CardManager().Loader()

	profiles, err := loader.List()
	if err != nil {
		s.logger.Error("Failed to list profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROFILE_500", "Failed to list profiles", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"search_paths": s.lm.Config().Profiles.SearchPaths,
		"profiles":     profiles,
		"count":        len(profiles),
	})
}

// GET /api/v1/profiles/:name
func (s *Server) getProfile(c *gin.Context) {
	name := c.Param("name")

	profile, err := s.lm.CardManager().Loader().Load(name)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Profile not found or invalid", err.Error()))
		return
	}

	c.JSON(http.StatusOK, profile)
}

// POST /api/v1/profiles/reload drops cached profiles. Loaded cards keep
// the profile they were created with.
func (s *Server) reloadProfiles(c *gin.Context) {
	s.lm.CardManager().Loader().ClearCache()
	s.logger.Info("Profile cache cleared")
	c.JSON(http.StatusOK, gin.H{"message": "profile cache cleared"})
}
