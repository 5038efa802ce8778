package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ROERequest is an engagement's rules-of-engagement submission. Nothing
// is persisted; the endpoint validates shape and echoes the document.
type ROERequest struct {
	Name               string            `json:"name" binding:"required"`
	AssessmentType     string            `json:"assessment_type" binding:"required"`
	Dates              map[string]string `json:"dates"`
	Scope              string            `json:"scope"`
	AllowedActivities  []string          `json:"allowed_activities"`
	RestrictedActions  []string          `json:"restricted_actions"`
	Contacts           string            `json:"contacts"`
	EmergencyProcedure string            `json:"emergency_procedure"`
}

const roeTemplate = `# Rules of Engagement Template

## Assessment Details
- **Name**: [Assessment Name]
- **Type**: [Assessment Type]
- **Dates**: [Start Date] to [End Date]

## Scope
[Target systems, IP ranges, domains]

## Allowed Activities
- [List of permitted testing activities]

## Restricted Actions
- [List of prohibited activities]

## Contacts
- [Primary contact information]

## Emergency Procedures
- [Steps to take in case of issues]
`

func (s *Server) handleROETemplate(c *gin.Context) {
	c.String(http.StatusOK, roeTemplate)
}

func (s *Server) handleSubmitROE(c *gin.Context) {
	var roe ROERequest
	if err := c.ShouldBindJSON(&roe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "ROE submitted successfully",
		"data":    roe,
	})
}
