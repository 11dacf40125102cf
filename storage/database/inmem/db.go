// Package inmemdb implements the repositories in memory, for tests and local demos.
// Unique and foreign key constraints of the SQL schema are enforced and reported as core.IntegrityError.
package inmemdb

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
)

type DB struct {
	sync.RWMutex

	seq map[string]int // {table: last id}

	users map[user.Role]map[int]user.User

	courses      map[int]catalog.Course
	disciplines  map[int]catalog.Discipline
	terms        map[int]catalog.Term
	classes      map[int]catalog.Class
	enrollments  map[int]catalog.Enrollment
	competencies map[int]catalog.Competency

	activities    map[int]evaluation.Activity
	groups        map[int]evaluation.Group
	evaluations   map[int]evaluation.Evaluation
	scores        map[int]evaluation.Score
	notifications map[int]notification.Notification
}

func Open() *DB {
	db := &DB{
		seq:           make(map[string]int),
		users:         make(map[user.Role]map[int]user.User),
		courses:       make(map[int]catalog.Course),
		disciplines:   make(map[int]catalog.Discipline),
		terms:         make(map[int]catalog.Term),
		classes:       make(map[int]catalog.Class),
		enrollments:   make(map[int]catalog.Enrollment),
		competencies:  make(map[int]catalog.Competency),
		activities:    make(map[int]evaluation.Activity),
		groups:        make(map[int]evaluation.Group),
		evaluations:   make(map[int]evaluation.Evaluation),
		scores:        make(map[int]evaluation.Score),
		notifications: make(map[int]notification.Notification),
	}
	for _, role := range user.LoginPrecedence {
		db.users[role] = make(map[int]user.User)
	}
	return db
}

// nextID must be called with the write lock held.
func (db *DB) nextID(table string) int {
	db.seq[table]++
	return db.seq[table]
}

func violation(constraint string) error {
	return core.NewIntegrityError(constraint, errors.Errorf("constraint %q violated", constraint))
}

func copyInts(ids []int) []int {
	if ids == nil {
		return nil
	}
	return append([]int(nil), ids...)
}
