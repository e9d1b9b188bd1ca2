package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/gmsas95/asit/internal/api"
	"github.com/gmsas95/asit/internal/app"
	"github.com/gmsas95/asit/internal/batch"
	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/course"
	"github.com/gmsas95/asit/internal/intake"
	"github.com/gmsas95/asit/internal/notify"
)

var Version = "dev"

const displayLang = "en"

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

// jsonOutput reports whether w should receive JSON instead of a table
func jsonOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	return !term.IsTerminal(int(f.Fd()))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// parseDay accepts yyyy-MM-dd, "today" or "yesterday"; empty means today
func parseDay(s string, a *app.App) (time.Time, error) {
	today := a.Engine.Today()
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	day, err := course.ParseDay(s, a.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", s)
	}
	return day, nil
}

// parseClock parses HH:MM
func parseClock(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func courseState(c *course.Course) string {
	switch {
	case c.IsCompleted:
		return "completed"
	case c.IsPaused:
		return "paused"
	default:
		return "active"
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// findCourse resolves a full id or a unique id prefix
func findCourse(a *app.App, ref string) (*course.Course, error) {
	if c, err := a.Courses.Course(ref); err == nil {
		return c, nil
	}
	var match *course.Course
	for _, c := range a.Courses.Courses() {
		if strings.HasPrefix(c.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("course id %q is ambiguous", ref)
			}
			match = c
		}
	}
	if match == nil {
		return nil, fmt.Errorf("course not found: %s", ref)
	}
	return match, nil
}

// ==================== Courses ====================

func HandleCoursesCommand(args []string, application *app.App) {
	if len(args) == 0 {
		PrintCoursesHelp()
		return
	}
	exitOnError(coursesCommand(os.Stdout, args, application))
}

func coursesCommand(w io.Writer, args []string, a *app.App) error {
	ctx := context.Background()

	switch args[0] {
	case "list", "ls":
		list := a.Courses.Courses()
		if jsonOutput(w) {
			return writeJSON(w, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(w, "No courses yet. Add one with: asit courses add <medication> <year> <start> <end>")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, c := range list {
			rows = append(rows, []string{
				shortID(c.ID),
				a.Engine.MedicationName(c.MedicationID),
				c.TakingYear.String(),
				course.DayKey(c.StartDate),
				course.DayKey(c.EndDate),
				courseState(c),
				strconv.Itoa(len(c.Intakes)),
			})
		}
		renderTable(w, []string{"ID", "Medication", "Year", "Start", "End", "State", "Intakes"}, rows)

	case "add", "new":
		if len(args) < 5 {
			return fmt.Errorf("usage: asit courses add <medication> <year> <start> <end>")
		}
		year, err := course.ParseTakingYear(args[2])
		if err != nil {
			return err
		}
		start, err := parseDay(args[3], a)
		if err != nil {
			return err
		}
		end, err := parseDay(args[4], a)
		if err != nil {
			return err
		}
		if _, known := a.Catalog.Lookup(args[1]); !known {
			fmt.Fprintf(w, "Warning: %s is not in the catalog\n", args[1])
		}
		c, err := a.Courses.AddCourse(ctx, course.New(args[1], year, start, end))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Added course %s (%s)\n", c.ID, a.Engine.MedicationName(c.MedicationID))

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: asit courses show <id>")
		}
		c, err := findCourse(a, args[1])
		if err != nil {
			return err
		}
		if jsonOutput(w) {
			return writeJSON(w, c)
		}
		printCourse(w, a, c)

	case "pause", "resume", "complete":
		if len(args) < 2 {
			return fmt.Errorf("usage: asit courses %s <id>", args[0])
		}
		c, err := findCourse(a, args[1])
		if err != nil {
			return err
		}
		switch args[0] {
		case "pause":
			c.IsPaused = true
		case "resume":
			c.IsPaused = false
		case "complete":
			c.IsCompleted = true
		}
		if _, err := a.Courses.UpdateCourse(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Course %s is now %s\n", shortID(c.ID), courseState(c))

	case "delete", "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: asit courses delete <id>")
		}
		c, err := findCourse(a, args[1])
		if err != nil {
			return err
		}
		if err := a.Courses.DeleteCourse(ctx, c.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Deleted course %s\n", shortID(c.ID))

	default:
		PrintCoursesHelp()
	}
	return nil
}

func printCourse(w io.Writer, a *app.App, c *course.Course) {
	fmt.Fprintf(w, "Course %s\n", c.ID)
	fmt.Fprintf(w, "  Medication: %s (%s)\n", a.Engine.MedicationName(c.MedicationID), c.MedicationID)
	fmt.Fprintf(w, "  Year:       %s\n", c.TakingYear)
	fmt.Fprintf(w, "  Period:     %s .. %s\n", course.DayKey(c.StartDate), course.DayKey(c.EndDate))
	fmt.Fprintf(w, "  State:      %s\n", courseState(c))
	fmt.Fprintf(w, "  Today:      %s\n", intake.StatusFor(c, a.Engine.Today()))

	if len(c.Reminders) > 0 {
		rows := make([][]string, 0, len(c.Reminders))
		for _, r := range c.Reminders {
			active := ""
			if r.Active {
				active = "✓"
			}
			rows = append(rows, []string{shortID(r.ID), r.TimeOfDay(), active})
		}
		renderTable(w, []string{"Reminder", "Time", "Active"}, rows)
	}

	if len(c.Intakes) > 0 {
		rows := make([][]string, 0, len(c.Intakes))
		for _, in := range c.Intakes {
			rows = append(rows, []string{
				course.DayKey(in.Date.In(a.Location)),
				a.Catalog.PackageName(c.MedicationID, in.PackageID, displayLang),
				in.Dosage.String(),
				in.Comment,
			})
		}
		renderTable(w, []string{"Date", "Package", "Dosage", "Comment"}, rows)
	}
}

// ==================== Day overview ====================

func HandleTodayCommand(args []string, application *app.App) {
	exitOnError(todayCommand(os.Stdout, args, application))
}

func todayCommand(w io.Writer, args []string, a *app.App) error {
	var ref string
	if len(args) > 0 {
		ref = args[0]
	}
	day, err := parseDay(ref, a)
	if err != nil {
		return err
	}

	ov := a.Engine.DayOverview(day)
	if jsonOutput(w) {
		return writeJSON(w, ov)
	}
	if len(ov.Entries) == 0 {
		fmt.Fprintf(w, "No active courses on %s\n", ov.Date)
		return nil
	}

	rows := make([][]string, 0, len(ov.Entries))
	for _, e := range ov.Entries {
		dosage := ""
		if e.Intake != nil {
			dosage = e.Intake.Dosage.String()
		}
		rows = append(rows, []string{shortID(e.Course.ID), e.MedicationName, string(e.Status), dosage})
	}
	renderTable(w, []string{"Course", "Medication", "Status", "Dosage"}, rows)
	if ov.AllTaken {
		fmt.Fprintf(w, "✓ All doses taken on %s\n", ov.Date)
	}
	return nil
}

// HandleConfirmCommand logs the day's dose by repeating the last intake
func HandleConfirmCommand(args []string, application *app.App) {
	exitOnError(confirmCommand(os.Stdout, args, application))
}

func confirmCommand(w io.Writer, args []string, a *app.App) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: asit confirm <course> [date]")
	}
	c, err := findCourse(a, args[0])
	if err != nil {
		return err
	}
	var ref string
	if len(args) > 1 {
		ref = args[1]
	}
	day, err := parseDay(ref, a)
	if err != nil {
		return err
	}

	in, created, err := a.Engine.QuickConfirm(context.Background(), c.ID, day)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(w, "Already logged on %s (%s)\n", course.DayKey(day), in.Dosage)
		return nil
	}
	fmt.Fprintf(w, "✓ Logged %s on %s\n", in.Dosage, course.DayKey(day))
	return nil
}

// ==================== Reminders ====================

func HandleRemindersCommand(args []string, application *app.App) {
	if len(args) == 0 {
		PrintRemindersHelp()
		return
	}
	exitOnError(remindersCommand(os.Stdout, args, application))
}

func remindersCommand(w io.Writer, args []string, a *app.App) error {
	ctx := context.Background()
	if len(args) < 3 {
		PrintRemindersHelp()
		return nil
	}
	c, err := findCourse(a, args[1])
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		hour, minute, err := parseClock(args[2])
		if err != nil {
			return err
		}
		r, err := a.Courses.AddReminder(ctx, c.ID, course.NewReminder(hour, minute))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Added reminder %s at %s\n", shortID(r.ID), r.TimeOfDay())

	case "activate", "delete", "rm":
		r, err := findReminder(c, args[2])
		if err != nil {
			return err
		}
		if args[0] == "activate" {
			if err := a.Courses.ActivateReminder(ctx, c.ID, r.ID); err != nil {
				return err
			}
			fmt.Fprintf(w, "✓ Reminder at %s is now active\n", r.TimeOfDay())
			return nil
		}
		if err := a.Courses.DeleteReminder(ctx, c.ID, r.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Deleted reminder at %s\n", r.TimeOfDay())

	default:
		PrintRemindersHelp()
	}
	return nil
}

func findReminder(c *course.Course, ref string) (course.Reminder, error) {
	for _, r := range c.Reminders {
		if r.ID == ref || strings.HasPrefix(r.ID, ref) {
			return r, nil
		}
	}
	return course.Reminder{}, fmt.Errorf("reminder not found: %s", ref)
}

// ==================== Export / import ====================

func HandleExportCommand(args []string, application *app.App) {
	exitOnError(exportCommand(os.Stdout, args, application))
}

func exportCommand(w io.Writer, args []string, a *app.App) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: asit export <course> [dir]")
	}
	c, err := findCourse(a, args[0])
	if err != nil {
		return err
	}
	dir := "."
	if len(args) > 1 {
		dir = args[1]
	}
	path, err := a.Codec.WriteFile(c, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Exported to %s\n", path)
	return nil
}

func HandleImportCommand(args []string, application *app.App) {
	exitOnError(importCommand(os.Stdout, args, application))
}

func importCommand(w io.Writer, args []string, a *app.App) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: asit import <file|dir>...")
	}
	files, err := batch.CollectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .json files found")
	}

	importer := batch.NewImporter(a.Codec, a.Courses, batch.DefaultConfig(), a.Logger.Named("import"))
	result, err := importer.ImportFiles(context.Background(), files)
	if err != nil {
		return err
	}
	if jsonOutput(w) {
		return writeJSON(w, result)
	}

	for _, item := range result.Items {
		if item.Success {
			fmt.Fprintf(w, "✓ Imported %s as course %s (%d intakes, %d reminders)\n",
				filepath.Base(item.Path), shortID(item.CourseID), item.Intakes, item.Reminders)
		} else {
			fmt.Fprintf(w, "✗ %s: %s\n", filepath.Base(item.Path), item.Error)
		}
	}
	if result.Total > 1 {
		fmt.Fprint(w, result.Summary())
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", result.Failed, result.Total)
	}
	return nil
}

// ==================== Notifications ====================

func HandleNotificationsCommand(args []string, application *app.App) {
	if len(args) == 0 {
		PrintNotificationsHelp()
		return
	}
	exitOnError(notificationsCommand(os.Stdout, args, application))
}

func notificationsCommand(w io.Writer, args []string, a *app.App) error {
	ctx := context.Background()

	switch args[0] {
	case "status":
		granted, err := a.Center.Authorized(ctx)
		if err != nil {
			return err
		}
		pending, err := a.Center.Pending(ctx)
		if err != nil {
			return err
		}
		if jsonOutput(w) {
			return writeJSON(w, map[string]any{"authorized": granted, "pending": pending})
		}
		fmt.Fprintf(w, "Permission: %s\n", permissionStatus(granted))
		if len(pending) == 0 {
			fmt.Fprintln(w, "No reminders scheduled")
			return nil
		}
		rows := make([][]string, 0, len(pending))
		for _, p := range pending {
			rows = append(rows, []string{p.ID, p.Title, p.Trigger.String()})
		}
		renderTable(w, []string{"ID", "Title", "Trigger"}, rows)

	case "grant", "revoke":
		granted := args[0] == "grant"
		if err := a.Center.SetAuthorized(ctx, granted); err != nil {
			return err
		}
		if err := a.SyncNow(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Notifications %s\n", permissionStatus(granted))

	default:
		PrintNotificationsHelp()
	}
	return nil
}

func permissionStatus(granted bool) string {
	if granted {
		return "✅ allowed"
	}
	return "❌ denied"
}

// HandleActionCommand replays a notification action, as if tapped on the reminder
func HandleActionCommand(args []string, application *app.App) {
	exitOnError(actionCommand(os.Stdout, args, application))
}

func actionCommand(w io.Writer, args []string, a *app.App) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: asit action <taken|snooze> <course> <reminder> [original-date]")
	}

	var actionID string
	switch args[0] {
	case "taken":
		actionID = notify.ActionTaken
	case "snooze":
		actionID = notify.ActionSnooze
	default:
		return fmt.Errorf("unknown action %q", args[0])
	}

	c, err := findCourse(a, args[1])
	if err != nil {
		return err
	}
	payload := notify.Payload{CourseID: c.ID, ReminderID: args[2]}
	if r, err := findReminder(c, args[2]); err == nil {
		payload.ReminderID = r.ID
	}
	if len(args) > 3 {
		day, err := parseDay(args[3], a)
		if err != nil {
			return err
		}
		payload = payload.WithOriginalDate(day)
	}

	res, err := a.Engine.HandleAction(context.Background(), notify.Response{
		ActionID: actionID,
		Payload:  payload,
		At:       time.Now(),
	})
	if err != nil {
		return err
	}
	if jsonOutput(w) {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "✓ %s: %s\n", args[0], res.Outcome)
	return nil
}

func HandleSyncCommand(application *app.App) {
	exitOnError(application.SyncNow(context.Background()))
	fmt.Println("✓ Reminders synced")
}

// ==================== Catalog ====================

func HandleCatalogCommand(args []string, application *app.App) {
	exitOnError(catalogCommand(os.Stdout, args, application))
}

func catalogCommand(w io.Writer, args []string, a *app.App) error {
	if len(args) > 0 {
		med, ok := a.Catalog.Lookup(args[0])
		if !ok {
			return fmt.Errorf("medication not found: %s", args[0])
		}
		if jsonOutput(w) {
			return writeJSON(w, med)
		}
		fmt.Fprintf(w, "%s (%s)\n", med.Name.Get(displayLang), med.TherapyType)
		rows := make([][]string, 0, len(med.Packages))
		for _, p := range med.Packages {
			dosages := make([]string, 0, len(p.Dosages))
			for _, d := range p.Dosages {
				dosages = append(dosages, d.String())
			}
			rows = append(rows, []string{p.ID, p.Name.Get(displayLang), strings.Join(dosages, ", ")})
		}
		renderTable(w, []string{"Package", "Name", "Dosages"}, rows)
		return nil
	}

	meds := a.Catalog.Medications()
	if jsonOutput(w) {
		return writeJSON(w, meds)
	}
	rows := make([][]string, 0, len(meds))
	for _, m := range meds {
		rows = append(rows, []string{m.ID, m.Name.Get(displayLang), string(m.TherapyType), strconv.Itoa(len(m.Packages))})
	}
	renderTable(w, []string{"ID", "Name", "Therapy", "Packages"}, rows)
	return nil
}

// ==================== Config ====================

func HandleConfigCommand(args []string, configPath, dataDir string) {
	if len(args) == 0 {
		PrintConfigHelp()
		return
	}

	if dataDir == "" {
		dataDir = config.GetDefaultDataDir()
	}
	if configPath == "" {
		configPath = filepath.Join(dataDir, "asit.yaml")
	}

	switch args[0] {
	case "init":
		if err := config.WriteDefault(configPath, dataDir); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote %s\n", configPath)

	case "path":
		fmt.Println(configPath)

	case "show":
		cfg, err := config.Load(configPath, dataDir)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		exitOnError(writeJSON(os.Stdout, cfg))

	default:
		PrintConfigHelp()
	}
}

// HandleTokenCommand prints a bearer token for the local API
func HandleTokenCommand(application *app.App) {
	exitOnError(tokenCommand(os.Stdout, application))
}

func tokenCommand(w io.Writer, a *app.App) error {
	token, err := api.IssueToken(a.Config.Server.JWTSecret, a.Config.Server.TokenTTL, time.Now())
	if err != nil {
		return fmt.Errorf("%w (set server.jwt_secret or ASIT_JWT_SECRET)", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

// ==================== Status ====================

func HandleStatusCommand(application *app.App) {
	exitOnError(statusCommand(os.Stdout, application))
}

func statusCommand(w io.Writer, a *app.App) error {
	ctx := context.Background()
	granted, err := a.Center.Authorized(ctx)
	if err != nil {
		return err
	}
	pending, err := a.Center.Pending(ctx)
	if err != nil {
		return err
	}

	active := 0
	for _, c := range a.Courses.Courses() {
		if !c.IsCompleted && !c.IsPaused {
			active++
		}
	}

	fmt.Fprintln(w, "Asit Status")
	fmt.Fprintln(w, "===========")
	fmt.Fprintf(w, "Version:       %s\n", Version)
	fmt.Fprintf(w, "Data:          %s\n", a.Config.Storage.DataDir)
	fmt.Fprintf(w, "Timezone:      %s\n", a.Location)
	fmt.Fprintf(w, "Medications:   %d\n", a.Catalog.Len())
	fmt.Fprintf(w, "Courses:       %d (%d running)\n", len(a.Courses.Courses()), active)
	fmt.Fprintf(w, "Notifications: %s, %d scheduled\n", permissionStatus(granted), len(pending))
	fmt.Fprintf(w, "Server:        http://%s:%d\n", a.Config.Server.Address, a.Config.Server.Port)
	return nil
}
