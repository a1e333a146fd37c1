package services

// Principal identifies the teacher on whose behalf an operation runs. Every
// entry point receives it explicitly.
type Principal struct {
	TeacherID int64
	Email     string
}

func (p Principal) Valid() bool { return p.TeacherID > 0 }
