package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/models"
	"github.com/noah-isme/course-portal-api/internal/portal"
	"github.com/noah-isme/course-portal-api/pkg/export"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, client *portal.Client, args []string, out io.Writer) error

var commands = map[string]command{
	"signup":      signupCmd,
	"login":       loginCmd,
	"logout":      logoutCmd,
	"refresh":     refreshCmd,
	"whoami":      whoamiCmd,
	"courses":     coursesCmd,
	"course":      courseCmd,
	"module":      moduleCmd,
	"register":    registerCmd,
	"enrollments": enrollmentsCmd,
	"dashboard":   dashboardCmd,
	"export":      exportCmd,
}

// run dispatches args[0] to its command.
func run(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd(ctx, client, args[1:], out)
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func singleID(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := parse(fs, args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("%w: %s requires a %s id", errUsage, fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func signupCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	fs := newFlagSet("signup", out)
	var req models.SignupRequest
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	fs.StringVar(&req.Email, "email", "", "email address")
	fs.StringVar(&req.Phone, "phone", "", "10-digit phone number")
	fs.StringVar(&req.Password, "password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}

	res, message, err := client.Signup(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s. Signed in as %s %s <%s>\n", message, res.User.FirstName, res.User.LastName, res.User.Email)
	return nil
}

func loginCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	fs := newFlagSet("login", out)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}

	res, err := client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in as %s %s (%d modules)\n", res.User.FirstName, res.User.LastName, len(res.User.EnrolledModuleIDs))
	return nil
}

func logoutCmd(ctx context.Context, client *portal.Client, _ []string, out io.Writer) error {
	if err := client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out")
	return nil
}

func refreshCmd(ctx context.Context, client *portal.Client, _ []string, out io.Writer) error {
	if err := client.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Session refreshed")
	return nil
}

func whoamiCmd(ctx context.Context, client *portal.Client, _ []string, out io.Writer) error {
	me, err := client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s <%s> phone %s\nmodules: %s\n",
		me.FirstName, me.LastName, me.Email, me.Phone, strings.Join(me.EnrolledModuleIDs, ", "))
	return nil
}

func coursesCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	fs := newFlagSet("courses", out)
	var query dto.CourseQuery
	fs.StringVar(&query.Department, "department", "", "exact department name")
	fs.StringVar(&query.Search, "search", "", "match title, code or description")
	fs.IntVar(&query.Page, "page", 0, "page number")
	fs.IntVar(&query.PageSize, "page-size", 0, "courses per page")
	if err := parse(fs, args); err != nil {
		return err
	}

	courses, pagination, err := client.Courses(ctx, query)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tTITLE\tDEPARTMENT\tCREDITS\tMODULES")
	for _, c := range courses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", c.ID, c.Code, c.Title, c.Department, c.Credits, c.ModuleCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if pagination != nil {
		fmt.Fprintf(out, "page %d, %d of %d courses\n", pagination.Page, len(courses), pagination.TotalCount)
	}
	return nil
}

func courseCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	id, err := singleID(newFlagSet("course", out), args, "course")
	if err != nil {
		return err
	}
	course, err := client.Course(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s (%d credits, %s)\n%s\n\n", course.Code, course.Title, course.Credits, course.Department, course.Description)
	return writeModules(out, course.Modules)
}

func moduleCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	id, err := singleID(newFlagSet("module", out), args, "module")
	if err != nil {
		return err
	}
	detail, err := client.Module(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", detail.Course.Code, detail.Course.Title)
	if err := writeModules(out, []models.Module{detail.Module}); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d seats left\n", detail.SeatsLeft)
	if detail.Enrolled != nil && *detail.Enrolled {
		fmt.Fprintln(out, "you are enrolled")
	}
	return nil
}

func registerCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	id, err := singleID(newFlagSet("register", out), args, "module")
	if err != nil {
		return err
	}
	result, err := client.Register(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s %s (%d/%d)\n", result.Message, result.Module.Code, result.Course.Title,
		result.Module.Enrolled, result.Module.Capacity)
	return nil
}

func enrollmentsCmd(ctx context.Context, client *portal.Client, _ []string, out io.Writer) error {
	views, err := client.Enrollments(ctx)
	if err != nil {
		return err
	}
	return writeEnrollments(out, views)
}

func dashboardCmd(ctx context.Context, client *portal.Client, _ []string, out io.Writer) error {
	summary, err := client.Dashboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Modules: %d\nClassmates: %d\nCredits: %d\n\n",
		summary.TotalModules, summary.TotalClassmates, summary.TotalCredits)
	return writeEnrollments(out, summary.Enrollments)
}

func exportCmd(ctx context.Context, client *portal.Client, args []string, out io.Writer) error {
	fs := newFlagSet("export", out)
	format := fs.String("format", string(export.FormatCSV), "csv or pdf")
	dest := fs.String("o", "", "output file (defaults to the server-suggested name)")
	if err := parse(fs, args); err != nil {
		return err
	}
	parsed, err := export.ParseFormat(*format)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	body, filename, err := client.ExportTimetable(ctx, parsed)
	if err != nil {
		return err
	}
	path := *dest
	if path == "" {
		path = filepath.Base(filename)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write timetable: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", path, len(body))
	return nil
}

func writeModules(out io.Writer, modules []models.Module) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tINSTRUCTOR\tSCHEDULE\tLOCATION\tSEATS")
	for _, m := range modules {
		seats := fmt.Sprintf("%d/%d", m.Enrolled, m.Capacity)
		if m.IsFull() {
			seats += " full"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Code, m.Instructor, m.Schedule, m.Location, seats)
	}
	return tw.Flush()
}

func writeEnrollments(out io.Writer, views []dto.EnrollmentView) error {
	if len(views) == 0 {
		fmt.Fprintln(out, "No enrollments")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tCOURSE\tCREDITS\tSCHEDULE\tLOCATION")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s %s\t%d\t%s\t%s\n", v.Module.Code, v.Course.Code, v.Course.Title, v.Course.Credits, v.Module.Schedule, v.Module.Location)
	}
	return tw.Flush()
}
