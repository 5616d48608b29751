package portal

import (
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// Reads below use the local copy as of the last poll or own write.

// FindStudent looks email up across every group.
func (p *Portal) FindStudent(email string) (models.Student, models.Group, error) {
	groups, err := replicator.Collection[models.Group](p.replicator, models.CollectionGroups)
	if err != nil {
		return models.Student{}, models.Group{}, err
	}
	for _, group := range groups {
		if student, ok := group.FindStudent(email); ok {
			return student, group, nil
		}
	}
	return models.Student{}, models.Group{}, ErrStudentNotFound
}

// GroupOf returns the group the student belongs to.
func (p *Portal) GroupOf(email string) (models.Group, error) {
	_, group, err := p.FindStudent(email)
	return group, err
}

// AssignedTests lists the tests published to the student's group.
func (p *Portal) AssignedTests(email string) ([]models.Test, error) {
	group, err := p.GroupOf(email)
	if err != nil {
		return nil, err
	}
	tests, err := replicator.Collection[models.Test](p.replicator, models.CollectionTests)
	if err != nil {
		return nil, err
	}

	assigned := make([]models.Test, 0)
	for _, test := range tests {
		if test.AssignedGroupID == group.ID {
			assigned = append(assigned, test)
		}
	}
	return assigned, nil
}

// AssignedTasks lists the tasks published to the student's group.
func (p *Portal) AssignedTasks(email string) ([]models.AssignmentTask, error) {
	group, err := p.GroupOf(email)
	if err != nil {
		return nil, err
	}
	tasks, err := replicator.Collection[models.AssignmentTask](p.replicator, models.CollectionTasks)
	if err != nil {
		return nil, err
	}

	assigned := make([]models.AssignmentTask, 0)
	for _, task := range tasks {
		if task.GroupID == group.ID {
			assigned = append(assigned, task)
		}
	}
	return assigned, nil
}

// Groups lists the groups owned by professorID.
func (p *Portal) Groups(professorID string) ([]models.Group, error) {
	groups, err := replicator.Collection[models.Group](p.replicator, models.CollectionGroups)
	if err != nil {
		return nil, err
	}

	owned := make([]models.Group, 0)
	for _, group := range groups {
		if group.ProfessorID == professorID {
			owned = append(owned, group)
		}
	}
	return owned, nil
}
