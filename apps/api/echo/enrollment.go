package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/user"
)

type enrollmentApi struct {
	svc    *enrollment.Service
	usrSvc *user.Service
}

func registerEnrollmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *enrollment.Service, usrSvc *user.Service) {
	api := enrollmentApi{svc: svc, usrSvc: usrSvc}

	eg := g.Group("/enrollments", jwt)
	eg.POST("", api.enroll, studentMiddleware())
	eg.POST("/trial", api.enrollTrial, studentMiddleware())
	eg.GET("/mine", api.queryMine, studentMiddleware())
	eg.GET("", api.query, adminMiddleware())
	eg.GET("/pending-payments", api.queryPendingPayments, adminMiddleware())

	dg := eg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/payment-proof", api.submitPaymentProof, studentMiddleware())
	dg.POST("/approve", api.approvePaymentProof, adminMiddleware())
	dg.POST("/reject", api.rejectPaymentProof, adminMiddleware())
	dg.POST("/cancel", api.cancel)
}

// Handlers

func (api *enrollmentApi) enrollTrial(ctx echo.Context) error {
	return api.create(ctx, api.svc.CreateTrial)
}

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	return api.create(ctx, api.svc.CreatePaid)
}

func (api *enrollmentApi) create(ctx echo.Context, fn func(user.User, string) (enrollment.Enrollment, error)) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	enr, err := fn(usr, data.ClassID)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *enrollmentApi) queryMine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	enrollments, err := api.svc.QueryByStudent(claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying enrollments by student")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *enrollmentApi) query(ctx echo.Context) error {
	var filter enrollment.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	return api.filter(ctx, filter)
}

// queryPendingPayments lists enrollments whose payment proofs await review.
func (api *enrollmentApi) queryPendingPayments(ctx echo.Context) error {
	filter := enrollment.QueryFilter{
		Statuses: []enrollment.Status{enrollment.StatusProofSubmitted, enrollment.StatusTrialProofSubmitted},
	}
	return api.filter(ctx, filter)
}

func (api *enrollmentApi) filter(ctx echo.Context, filter enrollment.QueryFilter) error {
	pq := bindPageQuery(ctx)
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrollments, total, err := api.svc.Filter(filter, pq, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "filtering enrollments")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, core.NewPaginated(enrollments, pq, total))
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	enr, err := api.getOwned(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) submitPaymentProof(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "a proof file is required"})
	}
	upload, err := uploadFromFileHeader(fh)
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer upload.Close()

	enr, err := api.svc.SubmitPaymentProof(ctx.Request().Context(), ctx.Param("id"), claims.Subject, upload.Upload)
	if err != nil {
		return errors.Wrap(err, "submitting payment proof")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) approvePaymentProof(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	enr, err := api.svc.ApprovePaymentProof(ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "approving payment proof")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) rejectPaymentProof(ctx echo.Context) error {
	var data RejectProofRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectProofRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errUnauthorized
	}
	enr, err := api.svc.RejectPaymentProof(ctx.Param("id"), claims.Subject, data.Reason)
	if err != nil {
		return errors.Wrap(err, "rejecting payment proof")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) cancel(ctx echo.Context) error {
	if _, err := api.getOwned(ctx); err != nil {
		return err
	}
	enr, err := api.svc.Cancel(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling enrollment")
	}
	return ctx.JSON(http.StatusOK, enr)
}

// getOwned loads the enrollment and hides it from anyone but its student
// or an admin.
func (api *enrollmentApi) getOwned(ctx echo.Context) (enrollment.Enrollment, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return enrollment.Enrollment{}, errUnauthorized
	}
	enr, err := api.svc.GetByID(ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == enrollment.ErrNotFound {
			return enrollment.Enrollment{}, errHttpNotFound
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "finding enrollment by ID")
	}
	if enr.StudentID != claims.Subject && !claims.IsAdmin {
		return enrollment.Enrollment{}, errHttpNotFound
	}
	return enr, nil
}

type (
	EnrollRequest struct {
		ClassID string `json:"class_id" validate:"required"`
	}

	RejectProofRequest struct {
		Reason string `json:"reason" validate:"required"`
	}
)

func (er *EnrollRequest) Validate() error {
	er.ClassID = core.CleanString(er.ClassID)
	return core.Validate.Struct(er)
}

func (rr *RejectProofRequest) Validate() error {
	rr.Reason = core.CleanString(rr.Reason)
	return core.Validate.Struct(rr)
}
