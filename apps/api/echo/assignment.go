package echoapi

import (
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/user"
)

type assignmentApi struct {
	svc      *assignment.Service
	classSvc *class.Service
	usrSvc   *user.Service
	storage  core.FileStorage
}

func registerAssignmentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *assignment.Service,
	classSvc *class.Service,
	usrSvc *user.Service,
	storage core.FileStorage,
) {
	api := assignmentApi{svc: svc, classSvc: classSvc, usrSvc: usrSvc, storage: storage}

	ag := g.Group("/assignments", jwt)
	ag.POST("", api.submit, studentMiddleware())
	ag.GET("/mine", api.queryMine, studentMiddleware())
	ag.GET("/classes/:id/weeks/:week", api.queryClassWeek, teacherMiddleware())
	ag.POST("/:id/grade", api.grade, teacherMiddleware())
}

// Handlers

// submit accepts one day's work as a multipart form: week_number, day and
// message fields plus optional "file" and "audio" parts. Files are validated
// before anything touches the object store.
func (api *assignmentApi) submit(ctx echo.Context) error {
	classID := core.CleanString(ctx.FormValue("class_id"))
	if classID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}

	var data assignment.Submission
	data.WeekNumber, _ = strconv.Atoi(ctx.FormValue("week_number"))
	data.Day, _ = strconv.Atoi(ctx.FormValue("day"))
	data.Message = ctx.FormValue("message")
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}

	fileURL, err := api.saveFormFile(ctx, "file", claims.Subject, classID, data)
	if err != nil {
		return err
	}
	audioURL, err := api.saveFormFile(ctx, "audio", claims.Subject, classID, data)
	if err != nil {
		return err
	}
	data.FileURL = fileURL
	data.AudioURL = audioURL

	sub, err := api.svc.Submit(claims.Subject, classID, data)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}
	return ctx.JSON(http.StatusOK, sub)
}

// saveFormFile validates and stores one optional multipart file, returning
// its public URL. A missing part is not an error.
func (api *assignmentApi) saveFormFile(ctx echo.Context, field, studentID, classID string, data assignment.Submission) (string, error) {
	fh, err := ctx.FormFile(field)
	if err != nil {
		return "", nil
	}
	upload, err := uploadFromFileHeader(fh)
	if err != nil {
		return "", errors.Wrap(err, "opening uploaded file")
	}
	defer upload.Close()

	if err := upload.Validate(core.AssignmentFileTypes); err != nil {
		return "", err
	}
	key := fmt.Sprintf("assignments/%s/%s/week-%d/day-%d/%s%s",
		classID, studentID, data.WeekNumber, data.Day, uuid.New().String(), path.Ext(fh.Filename))
	url, err := api.storage.Save(ctx.Request().Context(), key, upload.Upload)
	if err != nil {
		return "", errors.Wrap(err, "saving assignment file")
	}
	return url, nil
}

func (api *assignmentApi) queryMine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	classID := ctx.QueryParam("class_id")
	if classID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}

	rows, err := api.svc.QueryByStudent(classID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying assignments by student")
	}
	if rows == nil {
		rows = []assignment.Row{}
	}
	return ctx.JSON(http.StatusOK, rows)
}

// queryClassWeek lists a week's submissions across the class, restricted to
// the class's own teacher or an admin.
func (api *assignmentApi) queryClassWeek(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	cls, err := api.classSvc.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == class.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding class by ID")
	}
	if cls.TeacherID != claims.Subject && !claims.IsAdmin {
		return errHttpForbidden
	}

	weekNumber, err := strconv.Atoi(ctx.Param("week"))
	if err != nil {
		return errHttpNotFound
	}
	rows, err := api.svc.QueryByClassWeek(cls.ID, weekNumber)
	if err != nil {
		return errors.Wrap(err, "querying assignments by class week")
	}
	if rows == nil {
		rows = []assignment.Row{}
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *assignmentApi) grade(ctx echo.Context) error {
	var data assignment.Grades
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Grades")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	sub, err := api.svc.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == assignment.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding submission by ID")
	}
	if !claims.IsAdmin {
		cls, err := api.classSvc.GetByID(sub.ClassID)
		if err != nil {
			return errors.Wrap(err, "finding class by ID")
		}
		if cls.TeacherID != claims.Subject {
			return errHttpForbidden
		}
	}

	sub, err = api.svc.Grade(sub.ID, claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "grading assignment")
	}
	return ctx.JSON(http.StatusOK, sub)
}
