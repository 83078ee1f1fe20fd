package httpapi

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/water-quality-archive/internal/archive"
	"github.com/i474232898/water-quality-archive/internal/sinks"
	"github.com/i474232898/water-quality-archive/internal/store"
)

var validate = validator.New()

// Submitter starts a run in the background.
type Submitter interface {
	Submit(req archive.Request) (archive.RunReport, error)
}

// RunStore exposes stored runs.
type RunStore interface {
	Get(id string) (store.Run, error)
	List() []archive.RunReport
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, runs Submitter, st RunStore) {
	v1 := app.Group("/api/v1")

	v1.Post("/runs", func(c *fiber.Ctx) error {
		var body runRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		req, err := body.toRequest()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := runs.Submit(req)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		c.Location("/api/v1/runs/" + report.ID)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"id":     report.ID,
			"status": report.Status,
		})
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"runs": st.List(),
		})
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		run, err := st.Get(c.Params("id"))
		if err != nil {
			return runError(err)
		}
		return c.JSON(run.Report)
	})

	v1.Get("/runs/:id/csv", func(c *fiber.Ctx) error {
		run, err := st.Get(c.Params("id"))
		if err != nil {
			return runError(err)
		}
		if run.Report.Status != archive.RunCompleted {
			return fiber.NewError(fiber.StatusConflict, "run is "+string(run.Report.Status))
		}

		var buf bytes.Buffer
		if err := sinks.WriteCSV(&buf, run.Table); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to render csv")
		}
		c.Attachment(run.Report.ID + ".csv")
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		return c.Send(buf.Bytes())
	})
}

func runError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no run with the requested id")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to load run")
}

// runRequest is the JSON body accepted by POST /runs.
type runRequest struct {
	Area         string                `json:"area" validate:"required"`
	Determinands []archive.Determinand `json:"determinands" validate:"required,min=1,dive"`
	From         string                `json:"from" validate:"required"`
	To           string                `json:"to" validate:"required"`
}

func (r runRequest) toRequest() (archive.Request, error) {
	from, err := parseTime(r.From)
	if err != nil {
		return archive.Request{}, err
	}
	to, err := parseTime(r.To)
	if err != nil {
		return archive.Request{}, err
	}
	return archive.Request{
		Area:         r.Area,
		Determinands: r.Determinands,
		From:         archive.Date(from),
		To:           archive.Date(to),
	}, nil
}

// parseTime accepts YYYY-MM-DD, RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(archive.DateLayout, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use YYYY-MM-DD, RFC3339 or unix seconds")
}
