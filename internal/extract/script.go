package extract

// Script is evaluated in the table tab with returnByValue. It reads the DOM
// once and returns a single object whose shape Parse expects; values it
// cannot find are null (nullable fields) or zero.
const Script = `(() => {
  const qa = (sel, root) => Array.from((root || document).querySelectorAll(sel));
  const q = (sel, root) => (root || document).querySelector(sel);
  const text = (el) => (el && el.textContent ? el.textContent.trim() : "");
  const num = (s) => {
    const n = parseFloat(String(s || "").replace(/[^0-9.]/g, ""));
    return Number.isFinite(n) ? n : null;
  };
  const amount = (el) => num(text(el)) || 0;
  const card = (el) => {
    const raw = (el.getAttribute("data-card") || el.getAttribute("aria-label") || text(el)).trim();
    const m = raw.match(/^(10|[2-9TJQKA])\s*([cdhs♣♦♥♠])/i);
    if (!m) return null;
    const suits = { "♣": "c", "♦": "d", "♥": "h", "♠": "s" };
    const suit = suits[m[2]] || m[2].toLowerCase();
    return m[1].toUpperCase() + suit;
  };
  const cards = (sel) => qa(sel).map(card).filter((c) => c !== null);
  const statusOf = (el) => {
    const cls = el.className || "";
    if (/empty|vacant/i.test(cls)) return "empty";
    if (/sitting-?out|away/i.test(cls)) return "sitting_out";
    if (/all-?in/i.test(cls)) return "all_in";
    if (/fold/i.test(cls)) return "folded";
    return "active";
  };

  const players = {};
  let dealerSeat = null;
  let turnSeat = null;
  for (const el of qa("[data-seat], .seat")) {
    const seat = parseInt(el.getAttribute("data-seat") || el.id.replace(/\D/g, ""), 10);
    if (!(seat >= 1 && seat <= 10)) continue;
    const status = statusOf(el);
    if (status === "empty") continue;
    const isDealer = !!q(".dealer-button, .dealer, [data-dealer='true']", el);
    const isTurn = /active|acting|turn/i.test(el.className || "") || !!q(".timer, .time-bar", el);
    if (isDealer) dealerSeat = seat;
    if (isTurn) turnSeat = seat;
    players[String(seat)] = {
      name: text(q(".player-name, .name", el)).slice(0, 64),
      stack: amount(q(".player-stack, .stack, .chips", el)),
      bet: amount(q(".player-bet, .bet", el)),
      vpip: num(text(q("[data-stat='vpip'], .vpip", el))),
      af: num(text(q("[data-stat='af'], .af", el))),
      time_bank: num(text(q(".time-bank, .timebank", el))),
      is_dealer: isDealer,
      is_turn: isTurn,
      status: status,
    };
  }

  const blinds = text(q(".blinds, .table-blinds, [data-blinds]")).split("/");
  const ante = q(".ante, [data-ante]");

  return {
    pot_size: amount(q(".pot-total, .pot, [data-pot]")),
    board_cards: cards(".community-cards .card, .board .card"),
    players: players,
    hero_cards: cards(".hero .card, .my-cards .card, .hole-cards .card").slice(0, 2),
    dealer_seat: dealerSeat,
    active_turn_seat: turnSeat,
    small_blind: num(blinds[0]) || 0,
    big_blind: num(blinds[1]) || 0,
    ante: ante ? num(text(ante)) : null,
    tournament_name: text(q(".tournament-name, .table-name, [data-tournament]")).slice(0, 200),
  };
})()`
