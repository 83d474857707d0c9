package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/user"
)

type classApi struct {
	svc       *class.Service
	enrollSvc *enrollment.Service
	usrSvc    *user.Service
}

func registerClassAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *class.Service,
	enrollSvc *enrollment.Service,
	usrSvc *user.Service,
) {
	api := classApi{svc: svc, enrollSvc: enrollSvc, usrSvc: usrSvc}

	cg := g.Group("/classes", jwt)
	cg.POST("", api.create, teacherMiddleware())
	cg.GET("/mine", api.queryMine, teacherMiddleware())
	cg.GET("", api.query, adminMiddleware())

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, api.ownerMiddleware())
	dg.POST("/start", api.start, api.ownerMiddleware())
	dg.POST("/complete", api.complete, api.ownerMiddleware())
	dg.POST("/cancel", api.cancel, api.ownerMiddleware())
	dg.GET("/roster", api.roster, api.ownerMiddleware())
	dg.PUT("/weeks", api.setWeekContent, api.ownerMiddleware())
	dg.GET("/weeks", api.queryWeekContent)
	dg.GET("/weeks/:week", api.retrieveWeekContent)
}

// ownerMiddleware restricts a class detail route to the class's own teacher
// or an admin; the loaded class is stashed in the context under "object".
func (api *classApi) ownerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errUnauthorized
			}

			cls, err := api.svc.GetByID(ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == class.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding class by ID")
			}
			if cls.TeacherID != claims.Subject && !claims.IsAdmin {
				return errHttpForbidden
			}
			ctx.Set("object", cls)
			return next(ctx)
		}
	}
}

func (api *classApi) contextClass(ctx echo.Context) (class.Class, error) {
	if cls, ok := ctx.Get("object").(class.Class); ok {
		return cls, nil
	}
	return api.svc.GetByID(ctx.Param("id"))
}

// Handlers

func (api *classApi) create(ctx echo.Context) error {
	var data class.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	cls, err := api.svc.Create(claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *classApi) queryMine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	classes, err := api.svc.QueryByTeacher(claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying classes by teacher")
	}
	if classes == nil {
		classes = []class.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) query(ctx echo.Context) error {
	status := class.Status(ctx.QueryParam("status"))
	if status == "" {
		status = class.StatusInProgress
	}
	classes, err := api.svc.QueryByStatus(status)
	if err != nil {
		return errors.Wrap(err, "querying classes by status")
	}
	if classes == nil {
		classes = []class.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) retrieve(ctx echo.Context) error {
	cls, err := api.svc.GetByID(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) update(ctx echo.Context) error {
	cls, err := api.contextClass(ctx)
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}

	var data class.UpdateClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	cls, err = api.svc.Update(cls, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) start(ctx echo.Context) error {
	cls, err := api.svc.Start(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) complete(ctx echo.Context) error {
	cls, err := api.svc.Complete(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "completing class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) cancel(ctx echo.Context) error {
	cls, err := api.svc.Cancel(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) roster(ctx echo.Context) error {
	var statuses []enrollment.Status
	for _, s := range ctx.QueryParams()["status"] {
		statuses = append(statuses, enrollment.Status(s))
	}
	enrollments, err := api.enrollSvc.QueryByClass(ctx.Param("id"), statuses...)
	if err != nil {
		return errors.Wrap(err, "querying class roster")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *classApi) setWeekContent(ctx echo.Context) error {
	cls, err := api.contextClass(ctx)
	if err != nil {
		return errors.Wrap(err, "finding class by ID")
	}

	var data class.UpsertWeekContent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpsertWeekContent")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	wc, err := api.svc.SetWeekContent(cls, data)
	if err != nil {
		return errors.Wrap(err, "setting week content")
	}
	return ctx.JSON(http.StatusOK, wc)
}

func (api *classApi) queryWeekContent(ctx echo.Context) error {
	weeks, err := api.svc.QueryWeekContent(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying week content")
	}
	if weeks == nil {
		weeks = []class.WeekContent{}
	}
	return ctx.JSON(http.StatusOK, weeks)
}

func (api *classApi) retrieveWeekContent(ctx echo.Context) error {
	weekNumber, err := strconv.Atoi(ctx.Param("week"))
	if err != nil {
		return errHttpNotFound
	}
	wc, err := api.svc.GetWeekContent(ctx.Param("id"), weekNumber)
	if err != nil {
		return errors.Wrap(err, "finding week content")
	}
	return ctx.JSON(http.StatusOK, wc)
}
