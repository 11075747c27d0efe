package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrTitleRequired   = NewErr("TITLE_REQUIRED", "title required", http.StatusBadRequest)
	ErrContentRequired = NewErr("CONTENT_REQUIRED", "content required", http.StatusBadRequest)
	ErrInvalidLifetime = NewErr("INVALID_LIFETIME", "invalid lifetime", http.StatusBadRequest)
	ErrPasteTooLarge   = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrInvalidRequest  = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrPasteNotFound   = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired    = NewErr("PASTE_EXPIRED", "expired", http.StatusGone)
	ErrPastePrivate    = NewErr("PASTE_PRIVATE", "paste is private", http.StatusGone)
	ErrDeleteForbidden = NewErr("DELETE_FORBIDDEN", "private pastes cannot be deleted by id", http.StatusForbidden)
	ErrSecretKeyTaken  = NewErr("SECRET_KEY_TAKEN", "secret key already in use", http.StatusConflict)
	ErrInternalServer  = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func ToResp(err error) ErrResp {
	if e, ok := err.(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
