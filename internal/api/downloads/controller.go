package downloads

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/snagbot/snag/internal/download"
	"github.com/snagbot/snag/internal/formats"
	"github.com/snagbot/snag/pkg/logger"
)

type (
	NewDownloadRequest struct {
		URL string `json:"url" validate:"required,url"`
	}

	ResolveFormatRequest struct {
		FormatID string `json:"format_id" validate:"required"`
	}

	ResolutionTypeWrapper struct{ Value download.ResolutionType }
	ResolveTroubleRequest struct {
		Method *ResolutionTypeWrapper `json:"method"`
	}

	// DownloadDto is the response used by endpoints that return the items
	// being downloaded (e.g., list, get).
	DownloadDto struct {
		Id            uuid.UUID        `json:"id"`
		URL           string           `json:"url"`
		Platform      string           `json:"platform"`
		State         DownloadStateDto `json:"state"`
		FormatOptions []formats.Option `json:"format_options,omitempty"`
		Trouble       *TroubleDto      `json:"trouble"`
	}

	DownloadStateDto string
	TroubleTypeDto   string

	TroubleDto struct {
		Type                   TroubleTypeDto          `json:"type"`
		Message                string                  `json:"message"`
		AllowedResolutionTypes []ResolutionTypeWrapper `json:"allowed_resolution_types"`
	}

	DownloadService interface {
		GetAllDownloads() []*download.DownloadItem
		GetDownload(uuid.UUID) *download.DownloadItem
		NewDownload(url string) (uuid.UUID, error)
		RemoveDownload(uuid.UUID) error
		ResolveFormat(itemID uuid.UUID, formatID string) error
		ResolveTrouble(itemID uuid.UUID, method download.ResolutionType) error
	}

	// Controller defines the routes for the download endpoints and holds
	// the reference to the service that owns the download queue.
	Controller struct {
		validate *validator.Validate
		service  DownloadService
	}
)

var controllerLogger = logger.Get("DownloadsController")

const (
	PENDING         DownloadStateDto = "PENDING"
	PROBING         DownloadStateDto = "PROBING"
	AWAITING_FORMAT DownloadStateDto = "AWAITING_FORMAT"
	DOWNLOADING     DownloadStateDto = "DOWNLOADING"
	RECONCILING     DownloadStateDto = "RECONCILING"
	DISPATCHING     DownloadStateDto = "DISPATCHING"
	COMPLETE        DownloadStateDto = "COMPLETE"
	TROUBLED        DownloadStateDto = "TROUBLED"

	CREDENTIALS_REQUIRED TroubleTypeDto = "CREDENTIALS_REQUIRED"
	ALL_TOOLS_FAILED     TroubleTypeDto = "ALL_TOOLS_FAILED"
	WORKSPACE_FAILURE    TroubleTypeDto = "WORKSPACE_FAILURE"
	SELECTION_EXPIRED    TroubleTypeDto = "SELECTION_EXPIRED"
	NO_USABLE_MEDIA      TroubleTypeDto = "NO_USABLE_MEDIA"
	DELIVERY_FAILURE     TroubleTypeDto = "DELIVERY_FAILURE"
	UNKNOWN_FAILURE      TroubleTypeDto = "UNKNOWN_FAILURE"
)

func New(validate *validator.Validate, serv DownloadService) *Controller {
	return &Controller{validate: validate, service: serv}
}

// SetRoutes accepts the Echo group for the download endpoints and sets
// the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/format/", controller.postFormatSelection)
	eg.POST("/:id/trouble-resolution/", controller.postTroubleResolution)
}

// create validates and enqueues a new download for the URL provided in
// the request body, returning the ID of the queued item.
func (controller *Controller) create(ec echo.Context) error {
	var request NewDownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := controller.service.NewDownload(request.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.JSON(http.StatusCreated, map[string]any{"id": id})
}

// list returns all the downloads - represented as DTOs - from the
// underlying service.
func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.GetAllDownloads()
	dtos := make([]*DownloadDto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// get uses the 'id' path param from the context and retrieves the
// download from the underlying service.
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	item := controller.service.GetDownload(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// delete uses the 'id' path param from the context and removes the
// matching download from the queue, if it can be removed.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	if err := controller.service.RemoveDownload(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postFormatSelection resumes a download paused for quality selection
// with the format the client chose.
func (controller *Controller) postFormatSelection(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	var request ResolveFormatRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := controller.service.ResolveFormat(id, request.FormatID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postTroubleResolution uses the 'id' path param from the context and
// retrieves the download from the underlying service. If found, then an
// attempt to resolve the trouble will be made.
func (controller *Controller) postTroubleResolution(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	var request ResolveTroubleRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	} else if request.Method == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'method' field")
	}

	if err := controller.service.ResolveTrouble(id, request.Method.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (wrapper *ResolutionTypeWrapper) UnmarshalJSON(data []byte) error {
	var strValue string
	if err := json.Unmarshal(data, &strValue); err != nil {
		return err
	}

	switch strValue {
	case "abort":
		wrapper.Value = download.ABORT
	case "retry":
		wrapper.Value = download.RETRY
	default:
		return fmt.Errorf("invalid enum value: %s for resolution method", strValue)
	}

	return nil
}

func (wrapper ResolutionTypeWrapper) MarshalJSON() ([]byte, error) {
	switch wrapper.Value {
	case download.ABORT:
		return json.Marshal("abort")
	case download.RETRY:
		return json.Marshal("retry")
	}

	return nil, fmt.Errorf("invalid enum value: %v for resolution method has no known marshalling", wrapper.Value)
}

// NewDto creates a DownloadDto using the DownloadItem model.
func NewDto(item *download.DownloadItem) *DownloadDto {
	var trbl *TroubleDto = nil
	if item.Trouble != nil {
		trbl = &TroubleDto{
			Type:                   TroubleTypeModelToDto(item.Trouble.Type()),
			Message:                item.Trouble.Error(),
			AllowedResolutionTypes: ExtractTroubleResolutionTypes(item.Trouble),
		}
	}

	return &DownloadDto{
		Id:            item.ID,
		URL:           item.URL,
		Platform:      string(item.Platform),
		State:         DownloadStateModelToDto(item.State),
		FormatOptions: item.FormatOptions,
		Trouble:       trbl,
	}
}

func ExtractTroubleResolutionTypes(trouble *download.Trouble) []ResolutionTypeWrapper {
	modelResTypes := trouble.AllowedResolutionTypes()
	dtoResTypes := make([]ResolutionTypeWrapper, len(modelResTypes))
	for k, v := range modelResTypes {
		dtoResTypes[k] = ResolutionTypeWrapper{Value: v}
	}

	return dtoResTypes
}

func TroubleTypeModelToDto(troubleType download.TroubleType) TroubleTypeDto {
	switch troubleType {
	case download.CREDENTIALS_REQUIRED:
		return CREDENTIALS_REQUIRED
	case download.ALL_TOOLS_FAILED:
		return ALL_TOOLS_FAILED
	case download.WORKSPACE_FAILURE:
		return WORKSPACE_FAILURE
	case download.SELECTION_EXPIRED:
		return SELECTION_EXPIRED
	case download.NO_USABLE_MEDIA:
		return NO_USABLE_MEDIA
	case download.DELIVERY_FAILURE:
		return DELIVERY_FAILURE
	default:
		controllerLogger.Emit(logger.WARNING, "Trouble type %s has no DTO mapping, reporting as unknown\n", troubleType)
		return UNKNOWN_FAILURE
	}
}

func DownloadStateModelToDto(modelState download.DownloadItemState) DownloadStateDto {
	switch modelState {
	case download.PENDING:
		return PENDING
	case download.PROBING:
		return PROBING
	case download.AWAITING_FORMAT:
		return AWAITING_FORMAT
	case download.DOWNLOADING:
		return DOWNLOADING
	case download.RECONCILING:
		return RECONCILING
	case download.DISPATCHING:
		return DISPATCHING
	case download.COMPLETE:
		return COMPLETE
	case download.TROUBLED:
		return TROUBLED
	}

	panic(fmt.Sprintf("download state %s is not recognized by API layer, DTO cannot be created. Please report this error.", modelState))
}
