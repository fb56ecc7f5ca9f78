package endpoints

import (
	"io"
	"net/http"

	"flowengine/internal/api/handler/mapper"
	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/models"
	"flowengine/internal/api/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

type webhookHandler struct {
	webhookService *service.WebhookService
	logger         zerolog.Logger
}

// WebhookHandler exposes webhook triggers. Callers authenticate with the
// trigger's signature, not with a user token.
func WebhookHandler(router gin.IRouter, webhooks *service.WebhookService, logger zerolog.Logger) {
	h := &webhookHandler{webhookService: webhooks, logger: logger}
	router.POST("/api/v1/webhooks/:path", h.receive)
}

func (slf *webhookHandler) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, response.APIError{Message: "Webhook body too large"})
		return
	}

	res, err := slf.webhookService.Handle(c.Request.Context(), service.WebhookRequest{
		Path:   c.Param("path"),
		Header: c.Request.Header,
		Body:   body,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	if res.Async {
		c.JSON(http.StatusAccepted, mapper.ToTaskAccepted(res.TaskID))
		return
	}
	status := http.StatusOK
	if res.Result.Status != models.RunStatusCompleted {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res.Result)
}
