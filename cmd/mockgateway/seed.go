package main

import (
	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/gatewaytest"
	userdomain "jobs-admin/client/internal/user/domain"
)

// Development accounts. All share devPassword.
const devPassword = "password123"

var devUsers = []userdomain.User{
	{Username: "admin", Email: "admin@example.com", EmailVerified: true, UserType: userdomain.UserTypeAdmin, FirstName: "Dev", LastName: "Admin"},
	{Username: "staff", Email: "staff@example.com", EmailVerified: true, UserType: userdomain.UserTypeRecruiter, IsStaff: true},
	{Username: "recruiter", Email: "recruiter@example.com", EmailVerified: true, UserType: userdomain.UserTypeRecruiter},
	{Username: "seeker", Email: "seeker@example.com", UserType: userdomain.UserTypeJobSeeker},
}

func seed(gw *gatewaytest.Gateway) error {
	for _, u := range devUsers {
		created, err := gw.AddUser(u, devPassword)
		if err != nil {
			return err
		}
		log.Info().Int64("user_id", created.ID).Str("username", created.Username).Str("user_type", string(created.UserType)).Msg("seeded user")
	}
	return nil
}
