package echoapi

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/user"
)

type uploadApi struct {
	usrSvc  *user.Service
	storage core.FileStorage
}

func registerUploadAPI(g *echo.Group, jwt echo.MiddlewareFunc, usrSvc *user.Service, storage core.FileStorage) {
	api := uploadApi{usrSvc: usrSvc, storage: storage}

	ug := g.Group("/uploads", jwt)
	ug.POST("/profile-picture", api.profilePicture)
}

// Handlers

func (api *uploadApi) profilePicture(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "an image file is required"})
	}
	upload, err := uploadFromFileHeader(fh)
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer upload.Close()

	if err := upload.Validate(core.ProfilePictureTypes); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	key := fmt.Sprintf("profile-pictures/%s/%s%s", usr.ID, uuid.New().String(), path.Ext(fh.Filename))
	url, err := api.storage.Save(ctx.Request().Context(), key, upload.Upload)
	if err != nil {
		return errors.Wrap(err, "saving profile picture")
	}

	usr, err = api.usrSvc.SetPhotoURL(usr, url)
	if err != nil {
		return errors.Wrap(err, "setting photo URL")
	}
	return ctx.JSON(http.StatusOK, usr)
}

// multipartUpload pairs a core.Upload with the underlying multipart file so
// handlers can close it when done.
type multipartUpload struct {
	core.Upload
	file multipart.File
}

func (u *multipartUpload) Close() error { return u.file.Close() }

func uploadFromFileHeader(fh *multipart.FileHeader) (*multipartUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	return &multipartUpload{
		Upload: core.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     f,
		},
		file: f,
	}, nil
}
