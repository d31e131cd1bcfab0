package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/present/rest/middleware"
	"github.com/opencurate/releasehub/internal/present/rest/presenter"
	"github.com/opencurate/releasehub/internal/usecase"
)

type Handler struct {
	release   *usecase.ReleaseUsecase
	selection *usecase.SelectionUsecase
	manifest  *usecase.ManifestUsecase
	sharing   *usecase.SharingUsecase
	dataset   *usecase.DatasetUsecase
	audit     *usecase.AuditService
}

func NewHandler(
	release *usecase.ReleaseUsecase,
	selection *usecase.SelectionUsecase,
	manifest *usecase.ManifestUsecase,
	sharing *usecase.SharingUsecase,
	dataset *usecase.DatasetUsecase,
	audit *usecase.AuditService,
) *Handler {
	return &Handler{
		release:   release,
		selection: selection,
		manifest:  manifest,
		sharing:   sharing,
		dataset:   dataset,
		audit:     audit,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, auth *middleware.AuthMiddleware) {
	api := e.Group("/api", auth.IdentifyUser, auth.RequireUser)

	api.GET("/releases", h.handleReleaseList)
	api.POST("/release", h.handleReleaseCreate)
	api.GET("/releases/:rid", h.handleReleaseGet)
	api.PATCH("/releases/:rid", h.handleReleasePatch)

	api.GET("/releases/:rid/cases", h.handleCases)
	api.GET("/releases/:rid/cases/:nid/consent", h.handleNodeConsent)

	api.POST("/releases/:rid/activate", h.handleActivate)
	api.POST("/releases/:rid/deactivate", h.handleDeactivate)

	api.GET("/releases/:rid/manifest", h.handleJSONManifest)
	api.GET("/releases/:rid/tsv-manifest-plaintext", h.handleTsvManifest)
	api.POST("/releases/:rid/tsv-manifest-archive", h.handleTsvManifestArchive)

	api.POST("/releases/:rid/presign", h.handlePresign)
	api.POST("/releases/:rid/htsget-manifest", h.handleHtsgetPublish)
	api.POST("/releases/:rid/htsget-restrictions", h.handleHtsgetRestrictionApply)
	api.DELETE("/releases/:rid/htsget-restrictions/:restriction", h.handleHtsgetRestrictionRemove)

	api.GET("/releases/:rid/participants", h.handleParticipantList)
	api.POST("/releases/:rid/participants", h.handleParticipantAdd)
	api.DELETE("/releases/:rid/participants", h.handleParticipantRemove)

	api.GET("/releases/:rid/audit-events", h.handleAuditEvents)
	api.GET("/releases/:rid/audit-events/stream", h.handleAuditStream)

	api.GET("/datasets", h.handleDatasetList)
	api.GET("/dataset", h.handleDatasetGet)
}

func requester(c echo.Context) domain.AuthenticatedUser {
	user, _ := middleware.UserFromContext(c.Request().Context())
	return user
}

func paging(c echo.Context) (int, int) {
	limit := 10
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 1
	}

	offset := 0
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func (h *Handler) handleReleaseList(c echo.Context) error {
	ctx := c.Request().Context()
	limit, offset := paging(c)

	result, err := h.release.GetAll(ctx, requester(c), limit, offset)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleReleaseCreate(c echo.Context) error {
	ctx := c.Request().Context()

	var input domain.ManualReleaseInput
	if err := c.Bind(&input); err != nil {
		return presenter.BadRequest(c, err)
	}

	key, err := h.release.New(ctx, requester(c), input)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"releaseKey": key})
}

func (h *Handler) handleReleaseGet(c echo.Context) error {
	ctx := c.Request().Context()

	detail, err := h.release.Get(ctx, requester(c), c.Param("rid"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, detail)
}

// patchOperation is the wire shape of a single mutation. Exactly one
// operation is accepted per PATCH request.
type patchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

func (h *Handler) handleReleasePatch(c echo.Context) error {
	ctx := c.Request().Context()
	releaseKey := c.Param("rid")

	var ops []patchOperation
	if err := c.Bind(&ops); err != nil {
		return presenter.BadRequest(c, err)
	}
	if len(ops) != 1 {
		return presenter.BadRequestMessage(c, "exactly one patch operation per request")
	}
	op := ops[0]

	// specimen selection travels on the same patch surface but routes to
	// the selection tree, not the release configuration
	if op.Path == "/specimens" {
		var ids []string
		if err := json.Unmarshal(op.Value, &ids); err != nil {
			return presenter.BadRequestMessage(c, "specimen list must be an array of node ids")
		}
		var err error
		switch op.Op {
		case "add":
			err = h.selection.SetSelected(ctx, requester(c), releaseKey, ids)
		case "remove":
			err = h.selection.SetUnselected(ctx, requester(c), releaseKey, ids)
		default:
			return presenter.BadRequestMessage(c, "unsupported op "+op.Op+" for /specimens")
		}
		if err != nil {
			return presenter.Error(c, err)
		}
		return presenter.OK(c, echo.Map{"status": "ok"})
	}

	cmd, err := decodePatch(op)
	if err != nil {
		return presenter.Error(c, err)
	}

	if err := h.release.Patch(ctx, requester(c), releaseKey, cmd); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// decodePatch maps one wire operation onto the closed command set. Unknown
// paths and malformed values fail before any authorization or write.
func decodePatch(op patchOperation) (domain.PatchCommand, error) {
	coding := func() (domain.Coding, error) {
		var value domain.Coding
		if err := json.Unmarshal(op.Value, &value); err != nil {
			return domain.Coding{}, domain.ValidationError{Message: "value must be a coding with system and code"}
		}
		return value, nil
	}
	str := func() (string, error) {
		var value string
		if err := json.Unmarshal(op.Value, &value); err != nil {
			return "", domain.ValidationError{Message: "value must be a string"}
		}
		return value, nil
	}
	boolean := func() (bool, error) {
		var value bool
		if err := json.Unmarshal(op.Value, &value); err != nil {
			return false, domain.ValidationError{Message: "value must be a boolean"}
		}
		return value, nil
	}

	switch op.Path {
	case "/applicationCoded/diseases":
		value, err := coding()
		if err != nil {
			return nil, err
		}
		switch op.Op {
		case "add":
			return domain.AddDisease{Coding: value}, nil
		case "remove":
			return domain.RemoveDisease{Coding: value}, nil
		}
		return nil, domain.ValidationError{Message: "unsupported op " + op.Op + " for " + op.Path}

	case "/applicationCoded/countries":
		value, err := coding()
		if err != nil {
			return nil, err
		}
		switch op.Op {
		case "add":
			return domain.AddCountry{Coding: value}, nil
		case "remove":
			return domain.RemoveCountry{Coding: value}, nil
		}
		return nil, domain.ValidationError{Message: "unsupported op " + op.Op + " for " + op.Path}
	}

	if op.Op != "replace" {
		return nil, domain.ValidationError{Message: "unsupported op " + op.Op + " for " + op.Path}
	}

	switch op.Path {
	case "/applicationCoded/type":
		value, err := str()
		if err != nil {
			return nil, err
		}
		studyType, err := domain.ParseStudyType(value)
		if err != nil {
			return nil, err
		}
		return domain.SetStudyType{StudyType: studyType}, nil

	case "/applicationCoded/beacon":
		value, err := str()
		if err != nil {
			return nil, err
		}
		return domain.SetBeaconQuery{Query: value}, nil

	case "/allowedRead":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowReadData, Value: value}, nil
	case "/allowedVariant":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowVariantData, Value: value}, nil
	case "/allowedPhenotype":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowPhenotypeData, Value: value}, nil
	case "/allowedS3":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowS3Data, Value: value}, nil
	case "/allowedGS":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowGSData, Value: value}, nil
	case "/allowedR2":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAllowed{Flag: domain.AllowR2Data, Value: value}, nil

	case "/dataSharingConfiguration/objectSigningEnabled":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetObjectSigningEnabled{Value: value}, nil
	case "/dataSharingConfiguration/objectSigningExpiryHours":
		var hours int
		if err := json.Unmarshal(op.Value, &hours); err != nil {
			return nil, domain.ValidationError{Message: "value must be an integer"}
		}
		return domain.SetObjectSigningExpiryHours{Value: hours}, nil
	case "/dataSharingConfiguration/copyOutEnabled":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetCopyOutEnabled{Value: value}, nil
	case "/dataSharingConfiguration/copyOutDestinationLocation":
		value, err := str()
		if err != nil {
			return nil, err
		}
		return domain.SetCopyOutDestination{Value: value}, nil
	case "/dataSharingConfiguration/htsgetEnabled":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetHtsgetEnabled{Value: value}, nil
	case "/dataSharingConfiguration/awsAccessPointEnabled":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetAwsAccessPointEnabled{Value: value}, nil
	case "/dataSharingConfiguration/awsAccessPointAccountId":
		value, err := str()
		if err != nil {
			return nil, err
		}
		return domain.SetAwsAccessPointAccountID{Value: value}, nil
	case "/dataSharingConfiguration/awsAccessPointVpcId":
		value, err := str()
		if err != nil {
			return nil, err
		}
		return domain.SetAwsAccessPointVpcID{Value: value}, nil
	case "/dataSharingConfiguration/gcpStorageIamEnabled":
		value, err := boolean()
		if err != nil {
			return nil, err
		}
		return domain.SetGcpStorageIamEnabled{Value: value}, nil
	case "/dataSharingConfiguration/gcpStorageIamUsers":
		var users []string
		if err := json.Unmarshal(op.Value, &users); err != nil {
			return nil, domain.ValidationError{Message: "value must be an array of principals"}
		}
		return domain.SetGcpStorageIamUsers{Value: users}, nil
	}

	return nil, domain.ValidationError{Message: "unknown patch path " + op.Path}
}

func (h *Handler) handleCases(c echo.Context) error {
	ctx := c.Request().Context()
	limit, offset := paging(c)

	result, err := h.selection.GetCases(ctx, requester(c), c.Param("rid"), limit, offset, c.QueryParam("q"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleNodeConsent(c echo.Context) error {
	ctx := c.Request().Context()

	consent, err := h.selection.GetNodeConsent(ctx, requester(c), c.Param("rid"), c.Param("nid"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"consentStatement": consent})
}

func (h *Handler) handleActivate(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.release.Activate(ctx, requester(c), c.Param("rid")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleDeactivate(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.release.Deactivate(ctx, requester(c), c.Param("rid")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleJSONManifest(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := h.manifest.GetActiveJSONManifest(ctx, requester(c), c.Param("rid"))
	if err != nil {
		return presenter.Error(c, err)
	}
	if body == nil {
		return presenter.NotFound(c, "release has no active manifest")
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) handleTsvManifest(c echo.Context) error {
	ctx := c.Request().Context()
	signed := c.QueryParam("signed") == "true"

	body, err := h.manifest.GetActiveTsvManifest(ctx, requester(c), c.Param("rid"), signed)
	if err != nil {
		return presenter.Error(c, err)
	}
	if body == nil {
		return presenter.NotFound(c, "release has no active manifest")
	}
	return c.Blob(http.StatusOK, "text/tab-separated-values", body)
}

func (h *Handler) handleTsvManifestArchive(c echo.Context) error {
	ctx := c.Request().Context()
	releaseKey := c.Param("rid")
	signed := c.QueryParam("signed") == "true"

	body, err := h.manifest.GetActiveTsvManifestAsArchive(ctx, requester(c), releaseKey, signed)
	if err != nil {
		return presenter.Error(c, err)
	}
	if body == nil {
		return presenter.NotFound(c, "release has no active manifest")
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-manifest.zip", releaseKey))
	return c.Blob(http.StatusOK, "application/zip", body)
}

type presignRequest struct {
	URL string `json:"url"`
}

func (h *Handler) handlePresign(c echo.Context) error {
	ctx := c.Request().Context()

	var req presignRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	protocol, bucket, key, err := domain.ParseObjectURL(req.URL)
	if err != nil {
		return presenter.Error(c, err)
	}

	signed, err := h.sharing.Presign(ctx, requester(c), c.Param("rid"), protocol, bucket, key)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"url": signed})
}

func (h *Handler) handleHtsgetPublish(c echo.Context) error {
	ctx := c.Request().Context()
	releaseKey := c.Param("rid")

	// any participant may trigger publication; the manifest lands in the
	// htsget serving area, not in the response
	if _, err := h.release.Get(ctx, requester(c), releaseKey); err != nil {
		return presenter.Error(c, err)
	}

	publication, err := h.sharing.PublishHtsgetManifest(ctx, releaseKey)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{
		"location":        fmt.Sprintf("s3://%s/%s", publication.Bucket, publication.Key),
		"maxAgeInSeconds": publication.MaxAge,
	})
}

type htsgetRestrictionRequest struct {
	Restriction string `json:"restriction"`
}

func (h *Handler) handleHtsgetRestrictionApply(c echo.Context) error {
	ctx := c.Request().Context()

	var req htsgetRestrictionRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	restriction, err := domain.ParseHtsgetRestriction(req.Restriction)
	if err != nil {
		return presenter.Error(c, err)
	}

	if err := h.release.ApplyHtsgetRestriction(ctx, requester(c), c.Param("rid"), restriction); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleHtsgetRestrictionRemove(c echo.Context) error {
	ctx := c.Request().Context()

	restriction, err := domain.ParseHtsgetRestriction(c.Param("restriction"))
	if err != nil {
		return presenter.Error(c, err)
	}

	if err := h.release.RemoveHtsgetRestriction(ctx, requester(c), c.Param("rid"), restriction); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleParticipantList(c echo.Context) error {
	ctx := c.Request().Context()

	participants, err := h.release.ListParticipants(ctx, requester(c), c.Param("rid"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, participants)
}

type participantRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) handleParticipantAdd(c echo.Context) error {
	ctx := c.Request().Context()

	var req participantRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	if err := h.release.AddParticipant(ctx, requester(c), c.Param("rid"), req.Email, req.Role); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleParticipantRemove(c echo.Context) error {
	ctx := c.Request().Context()

	email := c.QueryParam("email")
	if email == "" {
		return presenter.BadRequestMessage(c, "email parameter is required")
	}

	if err := h.release.RemoveParticipant(ctx, requester(c), c.Param("rid"), email); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleAuditEvents(c echo.Context) error {
	ctx := c.Request().Context()
	releaseKey := c.Param("rid")
	limit, offset := paging(c)

	// membership gates the audit trail, same as the release itself
	if _, err := h.release.Get(ctx, requester(c), releaseKey); err != nil {
		return presenter.Error(c, err)
	}

	result, err := h.audit.GetEntries(ctx, releaseKey, limit, offset)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleAuditStream pushes audit events for one release over a websocket as
// they complete.
func (h *Handler) handleAuditStream(c echo.Context) error {
	ctx := c.Request().Context()
	releaseKey := c.Param("rid")

	if _, err := h.release.Get(ctx, requester(c), releaseKey); err != nil {
		return presenter.Error(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	events, cancel := h.audit.Subscribe(releaseKey)
	defer cancel()

	quit := make(chan struct{})

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.DebugContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				close(quit)
				break
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(ev); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}

func (h *Handler) handleDatasetList(c echo.Context) error {
	ctx := c.Request().Context()
	limit, offset := paging(c)

	result, err := h.dataset.GetAll(ctx, limit, offset)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleDatasetGet(c echo.Context) error {
	ctx := c.Request().Context()

	uri := c.QueryParam("uri")
	if uri == "" {
		return presenter.BadRequestMessage(c, "uri parameter is required")
	}

	dataset, err := h.dataset.Get(ctx, uri)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, dataset)
}
