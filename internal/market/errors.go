package market

import "yideng/edu-market/edu-market-backend/pkg/apperr"

var (
	ErrDuplicateCourseID  = apperr.New(apperr.KindConflict, "DuplicateCourseId", "course id already exists")
	ErrCourseNotFound     = apperr.New(apperr.KindNotFound, "CourseNotFound", "course not found")
	ErrCourseInactive     = apperr.New(apperr.KindFailedPrecondition, "CourseInactive", "course is not on sale")
	ErrAlreadyPurchased   = apperr.New(apperr.KindConflict, "AlreadyPurchased", "course already purchased")
	ErrNotPurchased       = apperr.New(apperr.KindFailedPrecondition, "NotPurchased", "course not purchased")
	ErrAlreadyCertified   = apperr.New(apperr.KindConflict, "AlreadyCertified", "course completion already certified")
	ErrAlreadyInitialized = apperr.New(apperr.KindConflict, "AlreadyInitialized", "market already initialized")
	ErrNotInitialized     = apperr.New(apperr.KindNotFound, "NotInitialized", "market not initialized")
)
