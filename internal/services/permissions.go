package services

import "github.com/campusloop/campusloop/internal/models"

// Capabilities is the per-role capability set. It is resolved once when a
// session is validated and attached to the request context; call sites check
// capabilities instead of comparing roles.
type Capabilities struct {
	CanBrowseMentors     bool
	CanRequestMentorship bool
	CanOfferMentorship   bool
	CanModerate          bool
}

// Permissions maps an account role to its capability set. Students request,
// faculty and alumni offer, faculty moderate (completes mentorships), clubs
// only browse. Unknown roles get nothing.
func Permissions(role models.Role) Capabilities {
	switch role {
	case models.RoleStudent:
		return Capabilities{
			CanBrowseMentors:     true,
			CanRequestMentorship: true,
		}
	case models.RoleFaculty:
		return Capabilities{
			CanBrowseMentors:   true,
			CanOfferMentorship: true,
			CanModerate:        true,
		}
	case models.RoleAlumni:
		return Capabilities{
			CanBrowseMentors:     true,
			CanRequestMentorship: true,
			CanOfferMentorship:   true,
		}
	case models.RoleClub:
		return Capabilities{
			CanBrowseMentors: true,
		}
	default:
		return Capabilities{}
	}
}
