// Command simulator drives a handful of users through one voice room in process
// and prints what each of them sees.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"voice-room/auth"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/infrastructure/channel"
	"voice-room/infrastructure/storage"
	"voice-room/moderation"
	"voice-room/projection"
	"voice-room/runtime"
	"voice-room/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

type Config struct {
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"WARN"`
	RoomID           int           `envconfig:"ROOM_ID" default:"1001"`
	SeatCount        int           `envconfig:"SEAT_COUNT" default:"4"`
	Viewers          int           `envconfig:"VIEWERS" default:"3"`
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"2s"`
	Secret           string        `envconfig:"SECRET" default:"simulator"`
	// SIM_COLOURS enables colorized output
	Colours bool `envconfig:"COLOURS" default:"true"`
}

type user struct {
	*services.Coordinator
	view *projection.RoomView
}

type simulation struct {
	cfg     Config
	log     *slog.Logger
	host    *channel.LocalChannel
	deps    services.Deps
	issuer  *auth.Issuer
	owner   *user
	viewers []*user
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("sim", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.Viewers < 2 {
		return fmt.Errorf("at least 2 viewers are needed, got %d", cfg.Viewers)
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)
	ctx := context.Background()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return err
	}
	defer db.Close()
	index, err := storage.OpenRoomIndex("", logger)
	if err != nil {
		return err
	}
	defer index.Close()
	dictionary, err := moderation.DefaultDictionary()
	if err != nil {
		return err
	}
	moderator, err := moderation.NewModerator(dictionary.Words, '*', logger)
	if err != nil {
		return err
	}

	host := channel.NewLocalChannel(logger, index)
	sim := &simulation{
		cfg:    cfg,
		log:    logger,
		host:   host,
		issuer: auth.NewIssuer(cfg.Secret, time.Hour),
		deps: services.Deps{
			Channel:     host,
			Directory:   host,
			Profiles:    storage.NewProfileRepository(db, logger),
			Invitations: invitation.NewStore(),
			Moderator:   moderator,
		},
	}
	defer sim.closeAll()

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"Open the room", sim.open},
		{"Race for seat 1", sim.race},
		{"Owner moderates", sim.moderate},
		{"Invite to seat", sim.invite},
		{"Chat", sim.chat},
		{"Directory", sim.directory},
		{"Owner disconnects", sim.disconnect},
	}
	for _, step := range steps {
		sim.header(step.name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// login goes through a token like a remote client would.
func (s *simulation) login(ctx context.Context, userID string) (*user, error) {
	token, err := s.issuer.Issue(userID)
	if err != nil {
		return nil, err
	}
	authenticated, err := s.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	cfg := services.DefaultConfig()
	cfg.OperationTimeout = s.cfg.OperationTimeout
	coordinator, err := services.NewCoordinator(s.log, authenticated, cfg, s.deps)
	if err != nil {
		return nil, err
	}
	u := &user{Coordinator: coordinator, view: projection.NewRoomView(20)}
	coordinator.Subscribe(u.view)
	coordinator.Start(ctx)
	if err := coordinator.SetSelfProfile(ctx, "User "+userID, ""); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *simulation) open(ctx context.Context) error {
	var err error
	if s.owner, err = s.login(ctx, "owner"); err != nil {
		return err
	}
	param := room.Param{Name: "Simulated jazz night", SeatCount: s.cfg.SeatCount}
	if err := s.await(s.owner.CreateRoom(room.ID(s.cfg.RoomID), param)); err != nil {
		return err
	}
	for i := 1; i <= s.cfg.Viewers; i++ {
		viewer, err := s.login(ctx, "viewer-"+strconv.Itoa(i))
		if err != nil {
			return err
		}
		s.viewers = append(s.viewers, viewer)
		if err := s.await(viewer.EnterRoom(room.ID(s.cfg.RoomID))); err != nil {
			return err
		}
	}
	s.settle()
	s.printSeats(s.owner)
	return nil
}

func (s *simulation) race(ctx context.Context) error {
	a, b := s.viewers[0], s.viewers[1]
	first, err := a.EnterSeat(1)
	if err != nil {
		return err
	}
	second, err := b.EnterSeat(1)
	if err != nil {
		return err
	}
	for _, r := range []struct {
		u *user
		c *runtime.Completion
	}{{a, first}, {b, second}} {
		s.outcome(r.u.UserID()+" takes seat 1", r.c.Wait(ctx))
	}
	s.settle()
	s.printSeats(b)
	return nil
}

func (s *simulation) moderate(_ context.Context) error {
	if err := s.await(s.owner.MuteSeat(1, true)); err != nil {
		return err
	}
	if err := s.await(s.owner.CloseSeat(s.cfg.SeatCount-1, true)); err != nil {
		return err
	}
	s.outcome("viewer takes a closed seat", s.await(s.viewers[1].EnterSeat(s.cfg.SeatCount-1)))
	s.outcome("viewer kicks seat 1", s.await(s.viewers[1].KickSeat(1)))
	s.settle()
	s.printSeats(s.owner)
	return nil
}

func (s *simulation) invite(ctx context.Context) error {
	invitee := s.viewers[len(s.viewers)-1]
	sent, err := s.owner.InviteToSeat(2, invitee.UserID())
	if err != nil {
		return err
	}
	if err := sent.Wait(ctx); err != nil {
		return err
	}
	if !s.eventually(func() bool { return lo.Contains(invitee.view.Invitations(), sent.ID()) }) {
		return errors.New("invitation never arrived")
	}
	if err := s.await(invitee.AcceptInvitation(sent.ID())); err != nil {
		return err
	}
	invitee.view.Answered(sent.ID())
	s.eventually(func() bool { return lo.Contains(s.owner.view.Anchors(), invitee.UserID()) })
	s.printSeats(invitee)
	return nil
}

func (s *simulation) chat(_ context.Context) error {
	lines := map[*user]string{
		s.viewers[0]: "Hello everyone, lovely set tonight",
		s.viewers[1]: "Shut up you idiot",
		s.owner:      "Bonsoir à tous, bienvenue",
	}
	for _, u := range []*user{s.viewers[0], s.viewers[1], s.owner} {
		if err := s.await(u.SendRoomTextMsg(lines[u])); err != nil {
			return err
		}
	}
	s.settle()

	table := s.table("Sender", "Lang", "Text")
	for _, m := range s.viewers[0].view.Messages() {
		table.Append([]string{m.SenderID, m.Lang, m.Text})
	}
	table.Render()
	return nil
}

func (s *simulation) directory(ctx context.Context) error {
	found, err := s.viewers[0].SearchRooms(ctx, "jazz", 0)
	if err != nil {
		return err
	}
	table := s.table("Room", "Name", "Owner", "Members", "Seats")
	for _, info := range found {
		table.Append([]string{
			strconv.Itoa(int(info.ID)), info.Name, info.OwnerID,
			strconv.Itoa(info.MemberCount), strconv.Itoa(info.SeatCount),
		})
	}
	table.Render()

	users, err := s.owner.GetUserInfoList(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Println("members:", lo.Map(users, func(u room.UserInfo, _ int) string { return u.Name }))
	return nil
}

func (s *simulation) disconnect(_ context.Context) error {
	s.host.Disconnect(s.owner.UserID())
	ok := s.eventually(func() bool {
		return lo.EveryBy(s.viewers, func(u *user) bool { return u.view.Destroyed() })
	})
	var err error
	if !ok {
		err = errors.New("some viewer still sees the room")
	}
	s.outcome("every viewer saw the room destroyed", err)
	fmt.Println("rooms left:", s.host.ActiveRooms())
	return nil
}

func (s *simulation) await(completion *runtime.Completion, err error) error {
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.OperationTimeout)
	defer cancel()
	return completion.Wait(ctx)
}

// settle lets every notifier drain. Completions resolve on the echo,
// subscribers may lag a little behind.
func (s *simulation) settle() {
	time.Sleep(50 * time.Millisecond)
}

func (s *simulation) eventually(cond func() bool) bool {
	deadline := time.Now().Add(s.cfg.OperationTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func (s *simulation) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()
	for _, u := range append(s.viewers, s.owner) {
		if u == nil {
			continue
		}
		if err := u.Close(ctx); err != nil {
			s.log.Warn("Coordinator not closed cleanly", "user_id", u.UserID(), "error", err)
		}
	}
}

func (s *simulation) header(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)
}

func (s *simulation) outcome(what string, err error) {
	line := fmt.Sprintf("  %s: ok", what)
	c := color.FgGreen
	if err != nil {
		line = fmt.Sprintf("  %s: %v", what, err)
		c = color.FgRed
	}
	if s.cfg.Colours {
		line = c.Render(line)
	}
	fmt.Println(line)
}

func (s *simulation) printSeats(u *user) {
	fmt.Printf("  as seen by %s\n", u.UserID())
	table := s.table("Seat", "State", "Occupant", "Muted")
	for _, seat := range u.view.Seats() {
		table.Append([]string{
			strconv.Itoa(seat.Index), string(seat.State), seat.OccupantID, strconv.FormatBool(seat.Muted),
		})
	}
	table.Render()
	fmt.Println("  audience:", u.view.Audience())
}

func (s *simulation) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}
